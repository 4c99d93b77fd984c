// Package risk derives a heuristic risk score from emotion labels and keywords.
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zhouzirui/calma/backend/internal/analysis/emotion"
	"github.com/zhouzirui/calma/backend/internal/model/chat"
	riskmodel "github.com/zhouzirui/calma/backend/internal/model/risk"
)

// DefaultThreshold is the score at which an alert is raised.
const DefaultThreshold = 3

var riskEmotions = map[string]struct{}{
	emotion.Sadness: {},
	emotion.Fear:    {},
	emotion.Anger:   {},
	"sadness":       {},
	"fear":          {},
	"anger":         {},
}

// keywords is a policy list; order decides which keyword names the risk type.
var keywords = []string{
	"suicid",
	"matarme",
	"quitarme la vida",
	"autolesi",
	"cortarme",
	"self-harm",
	"kill myself",
	"bullying",
	"acoso",
	"me pegan",
	"abuso",
	"abusan",
	"maltrato",
	"violencia",
	"drogas",
	"alcohol",
	"emborrach",
	"pastillas",
}

// Assessment is the outcome of scoring a set of turns.
type Assessment struct {
	Score      int    `json:"score"`
	HasKeyword bool   `json:"hasKeyword"`
	RiskType   string `json:"riskType,omitempty"`
}

// ShouldAlert applies the alerting policy.
func (a Assessment) ShouldAlert(threshold int) bool {
	return a.Score >= threshold || a.HasKeyword
}

// IsRiskEmotion reports whether label belongs to the risk-emotion set.
func IsRiskEmotion(label string) bool {
	_, ok := riskEmotions[strings.ToLower(label)]
	return ok
}

// Score adds one point per turn with a risk emotion and one per keyword
// occurrence. RiskType is the first keyword found, or the last risk emotion
// seen when no keyword matched.
func Score(turns []chat.Turn) Assessment {
	var a Assessment
	lastEmotion := ""

	for _, turn := range turns {
		if label := turn.EmotionLabel(); IsRiskEmotion(label) {
			a.Score++
			lastEmotion = label
		}

		content := strings.ToLower(turn.Content)
		for _, keyword := range keywords {
			hits := strings.Count(content, keyword)
			if hits == 0 {
				continue
			}
			a.Score += hits
			if !a.HasKeyword {
				a.HasKeyword = true
				a.RiskType = keyword
			}
		}
	}

	if !a.HasKeyword {
		a.RiskType = lastEmotion
	}
	return a
}

// Dedup defaults: identical content alerts again after DefaultDedupWindow,
// and at most DefaultDedupEntries fingerprints are remembered.
const (
	DefaultDedupWindow  = 24 * time.Hour
	DefaultDedupEntries = 10000
)

// Monitor applies the alert policy and suppresses repeat alerts for the
// exact same message content within a bounded window.
type Monitor struct {
	threshold  int
	maxEntries int
	now        func() time.Time

	mu   sync.Mutex
	seen *gocache.Cache
}

func NewMonitor(threshold int) *Monitor {
	return NewMonitorWithWindow(threshold, DefaultDedupWindow, DefaultDedupEntries)
}

// NewMonitorWithWindow bounds de-duplication by time and entry count.
func NewMonitorWithWindow(threshold int, window time.Duration, maxEntries int) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultDedupEntries
	}
	cleanup := window
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Monitor{
		threshold:  threshold,
		maxEntries: maxEntries,
		now:        func() time.Time { return time.Now().UTC() },
		seen:       gocache.New(window, cleanup),
	}
}

// Remembered is the number of fingerprints currently held.
func (m *Monitor) Remembered() int {
	return m.seen.ItemCount()
}

// remember reports false if key was already seen inside the window.
func (m *Monitor) remember(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen.Get(key); dup {
		return false
	}
	if m.seen.ItemCount() >= m.maxEntries {
		m.seen.DeleteExpired()
		for m.seen.ItemCount() >= m.maxEntries {
			m.forgetOldest()
		}
	}
	m.seen.SetDefault(key, struct{}{})
	return true
}

func (m *Monitor) forgetOldest() {
	var (
		oldestKey string
		oldestExp int64
	)
	for key, item := range m.seen.Items() {
		if oldestKey == "" || item.Expiration < oldestExp {
			oldestKey = key
			oldestExp = item.Expiration
		}
	}
	if oldestKey == "" {
		m.seen.DeleteExpired()
		return
	}
	m.seen.Delete(oldestKey)
}

// Evaluate scores turns for userID and returns an alert when the policy
// fires and the triggering content has not alerted recently.
func (m *Monitor) Evaluate(userID string, turns []chat.Turn) (Assessment, *riskmodel.Alert) {
	assessment := Score(turns)
	if !assessment.ShouldAlert(m.threshold) || userID == "" || len(turns) == 0 {
		return assessment, nil
	}

	sum := sha256.Sum256([]byte(userID + "\x00" + turns[len(turns)-1].Content))
	if !m.remember(hex.EncodeToString(sum[:])) {
		return assessment, nil
	}

	riskType := assessment.RiskType
	if riskType == "" {
		riskType = "score"
	}
	score := assessment.Score
	return assessment, &riskmodel.Alert{
		UserID:    userID,
		Score:     &score,
		RiskType:  riskType,
		Timestamp: m.now(),
	}
}
