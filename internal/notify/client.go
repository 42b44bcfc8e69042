package notify

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/domain"
	"github.com/punchamoorthee/stakeops/internal/models"
)

var pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stakeops_notification_polls_total",
	Help: "Notification poll cycles, labeled by result",
}, []string{"result"})

// Source is the remote end of the notification channel.
type Source interface {
	Notifications(ctx context.Context, userID string) ([]models.NotificationDTO, error)
}

// Client fetches and normalizes notification lists.
type Client struct {
	source Source
	log    *logrus.Entry
}

func NewClient(source Source, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{source: source, log: log.WithField("component", "notify")}
}

// Fetch returns a fresh snapshot of userID's notifications, newest first.
func (c *Client) Fetch(ctx context.Context, userID string) ([]domain.Notification, error) {
	raw, err := c.source.Notifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.normalize(userID, raw), nil
}

func (c *Client) normalize(userID string, raw []models.NotificationDTO) []domain.Notification {
	out := make([]domain.Notification, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, dto := range raw {
		n, ok := c.convert(userID, dto)
		if !ok {
			continue
		}
		// A later duplicate of the same id is the fresher copy.
		if i, dup := index[n.ID]; dup {
			out[i] = n
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (c *Client) convert(userID string, dto models.NotificationDTO) (domain.Notification, bool) {
	log := c.log.WithFields(logrus.Fields{"user": userID, "notification": string(dto.ID)})
	if dto.ID == "" {
		log.Warn("dropping notification without id")
		return domain.Notification{}, false
	}
	if !dto.Amount.IsPositive() {
		log.Warn("dropping notification with non-positive amount")
		return domain.Notification{}, false
	}

	kind := domain.NotificationKind(strings.ToUpper(strings.TrimSpace(dto.Type)))
	var assetID uint64
	if dto.AssetID != nil {
		assetID = *dto.AssetID
	}
	if kind == domain.KindInvestRequest && assetID == 0 {
		log.Warn("dropping investment request without asset id")
		return domain.Notification{}, false
	}

	outcome := strings.ToLower(strings.TrimSpace(dto.Status))
	status := domain.StatusResolved
	if outcome == "" || outcome == string(domain.StatusPending) {
		status = domain.StatusPending
		outcome = ""
	}

	n := domain.Notification{
		ID:        string(dto.ID),
		Kind:      kind,
		Status:    status,
		Outcome:   outcome,
		FromUser:  dto.FromUsername,
		ToUser:    dto.ToUsername,
		Amount:    dto.Amount,
		AssetID:   assetID,
		Timestamp: parseTimestamp(dto.CreatedAt),
	}
	if n.ToUser == "" {
		n.ToUser = userID
	}
	if dto.TxID != nil {
		n.TransactionID = *dto.TxID
	}
	return n, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts ISO-8601 with or without a zone; zoneless values are UTC.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
