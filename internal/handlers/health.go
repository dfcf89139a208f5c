package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/campusgate/pkg/errors"
	"github.com/charlesng35/campusgate/pkg/response"
)

// Health returns a simple status payload useful for readiness checks. When db is set
// the database connection is pinged as well.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				response.Error(c, errors.New("DATABASE_UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
