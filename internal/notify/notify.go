// Package notify sends outbound alerts for high priority incidents.
package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/containrrr/shoutrrr"
	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/internal/models"
	"github.com/charlesng35/campusgate/pkg/logger"
)

// SendFunc delivers one message to a shoutrrr service URL.
type SendFunc func(url, message string) error

// Options configure an IncidentNotifier.
type Options struct {
	URLs        []string
	MinPriority models.Priority
	Send        SendFunc
}

// IncidentNotifier alerts external channels when an incident at or above the configured
// priority is opened.
type IncidentNotifier struct {
	urls        []string
	minPriority models.Priority
	send        SendFunc
	wg          sync.WaitGroup
	log         *zap.Logger
}

// NewIncidentNotifier returns nil when no URLs are configured.
func NewIncidentNotifier(opts Options) *IncidentNotifier {
	urls := make([]string, 0, len(opts.URLs))
	for _, url := range opts.URLs {
		if url = strings.TrimSpace(url); url != "" {
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	if !opts.MinPriority.Valid() {
		opts.MinPriority = models.PriorityHigh
	}
	if opts.Send == nil {
		opts.Send = func(url, message string) error { return shoutrrr.Send(url, message) }
	}
	return &IncidentNotifier{
		urls:        urls,
		minPriority: opts.MinPriority,
		send:        opts.Send,
		log:         logger.WithModule("notify"),
	}
}

// NotifyIncident sends the alert asynchronously. Entries below the threshold are ignored.
func (n *IncidentNotifier) NotifyIncident(entry *models.AuditLog) {
	if n == nil || entry == nil || !entry.IsIncident || entry.Priority == nil {
		return
	}
	if entry.Priority.Rank() < n.minPriority.Rank() {
		return
	}

	message := formatIncident(entry)
	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			if err := n.send(url, message); err != nil {
				n.log.Warn("incident alert failed", zap.Uint("incident_id", entry.ID), zap.Error(err))
			}
		}(url)
	}
}

// Wait blocks until in-flight alerts finish.
func (n *IncidentNotifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func formatIncident(entry *models.AuditLog) string {
	source := ""
	if entry.IncidentSource != nil {
		source = string(*entry.IncidentSource)
	}
	msg := fmt.Sprintf("[%s] incident #%d: %s on %s (%s) from %s",
		*entry.Priority, entry.ID, entry.Action, entry.Resource, source, entry.IPAddress)
	if entry.CorrelationID != "" {
		msg += " correlation=" + entry.CorrelationID
	}
	return msg
}
