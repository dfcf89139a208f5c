package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusgate/internal/services"
	"github.com/charlesng35/campusgate/pkg/response"
)

type BlocklistHandler struct {
	svc *services.BlocklistService
}

func NewBlocklistHandler(svc *services.BlocklistService) *BlocklistHandler {
	return &BlocklistHandler{svc: svc}
}

type blockIPRequest struct {
	IPAddress string     `json:"ipAddress" validate:"required,ipaddr"`
	Reason    string     `json:"reason" validate:"max=500"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type unblockIPRequest struct {
	IPAddress string `json:"ipAddress" validate:"required,ipaddr"`
}

// GET /api/soc/blocked-ips
func (h *BlocklistHandler) List(c *gin.Context) {
	includeExpired, _ := strconv.ParseBool(c.Query("includeExpired"))
	rows, err := h.svc.List(requestContext(c), includeExpired)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, rows, 0)
}

// POST /api/soc/block-ip
func (h *BlocklistHandler) Block(c *gin.Context) {
	var req blockIPRequest
	if !bindAndValidate(c, &req) {
		return
	}
	block, err := h.svc.Block(requestContext(c), services.BlockInput{
		IPAddress: req.IPAddress,
		Reason:    req.Reason,
		ExpiresAt: req.ExpiresAt,
		Source:    services.BlockSourceManual,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, block)
}

// POST /api/soc/unblock-ip
func (h *BlocklistHandler) Unblock(c *gin.Context) {
	var req unblockIPRequest
	if !bindAndValidate(c, &req) {
		return
	}
	affected, err := h.svc.Unblock(requestContext(c), req.IPAddress)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unblocked": affected})
}
