// Package faker produces synthetic payloads for the benchmark topics.
package faker

import (
	"fmt"
	"math/rand" // Using weak random for test data generation only
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tianqiongenze/StreamingBench/pkg/record"
)

const (
	maxUsers    = 50
	maxItems    = 500
	maxDevices  = 200
	maxSessions = 1000
	maxCost     = 5.0
	maxDuration = 600
)

var (
	strategies = []string{"hot", "new", "nearby", "guess"}
	sites      = []string{"home", "search", "detail", "cart"}
	countries  = []string{"CN", "US", "BR", "DE", "JP"}
	languages  = []string{"zh", "en", "pt", "de", "ja"}
	devices    = []string{"phone", "tablet", "desktop"}
	systems    = []string{"android", "ios", "linux", "windows"}
	browsers   = []string{"chrome", "safari", "firefox", "edge"}
	words      = []string{"hotpot", "coffee", "noodles", "pizza", "tea", "burger"}
)

// Generator builds payloads whose event times lag the wall clock by a
// random amount up to the configured jitter. It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	jitter time.Duration
	now    func() time.Time
}

func NewGenerator(seed int64, jitter time.Duration) *Generator {
	return &Generator{
		rnd:    rand.New(rand.NewSource(seed)), //nolint:gosec // Using weak random for test data generation only
		jitter: jitter,
		now:    time.Now,
	}
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

func (g *Generator) pick(values []string) string {
	return values[g.intn(len(values))]
}

// eventTime returns now minus a random lag in [0, jitter].
func (g *Generator) eventTime() int64 {
	ts := g.now().UnixMilli()
	if g.jitter > 0 {
		ts -= int64(g.intn(int(g.jitter.Milliseconds()) + 1))
	}
	return ts
}

func (g *Generator) userID() string    { return fmt.Sprintf("u%d", g.intn(maxUsers)+1) }
func (g *Generator) deviceID() string  { return fmt.Sprintf("dev-%d", g.intn(maxDevices)) }
func (g *Generator) sessionID() string { return fmt.Sprintf("s-%d", g.intn(maxSessions)) }

// Shopping returns a "user_id,item_id,shopping_time" line.
func (g *Generator) Shopping() []byte {
	return []byte(strings.Join([]string{
		g.userID(),
		fmt.Sprintf("i%d", g.intn(maxItems)),
		strconv.FormatInt(g.eventTime(), 10),
	}, ","))
}

// UserVisit returns a 13-column user-visit line with the event time in the
// fifth column.
func (g *Generator) UserVisit() []byte {
	word := g.pick(words)
	return []byte(strings.Join([]string{
		fmt.Sprintf("10.%d.%d.%d", g.intn(256), g.intn(256), g.intn(256)),
		strconv.Itoa(g.intn(maxSessions)),
		"/search?q=" + word,
		strconv.Itoa(g.intn(maxDuration)),
		strconv.FormatInt(g.eventTime(), 10),
		"Mozilla/5.0",
		g.pick(countries),
		g.pick(languages),
		word,
		g.pick(devices),
		g.pick(systems),
		g.pick(browsers),
		strconv.Itoa(g.intn(100) + 1),
	}, ","))
}

func (g *Generator) Click() map[string]any {
	return map[string]any{
		"click_time": g.eventTime(),
		"strategy":   g.pick(strategies),
		"site":       g.pick(sites),
		"pos_id":     fmt.Sprintf("pos-%d", g.intn(20)),
		"poi_id":     fmt.Sprintf("poi-%d", g.intn(maxItems)),
		"device_id":  g.deviceID(),
		"sessionId":  g.sessionID(),
	}
}

func (g *Generator) Impression() map[string]any {
	return map[string]any{
		"imp_time":  g.eventTime(),
		"strategy":  g.pick(strategies),
		"site":      g.pick(sites),
		"pos_id":    fmt.Sprintf("pos-%d", g.intn(20)),
		"poi_id":    fmt.Sprintf("poi-%d", g.intn(maxItems)),
		"cost":      g.float64() * maxCost,
		"device_id": g.deviceID(),
		"sessionId": g.sessionID(),
	}
}

func (g *Generator) Dau() map[string]any {
	return map[string]any{
		"dau_time":  g.eventTime(),
		"device_id": g.deviceID(),
		"sessionId": g.sessionID(),
	}
}

// Encoder serializes structured values for a topic.
type Encoder func(topic string, value map[string]any) ([]byte, error)

// Payload returns one wire payload for topicName. Delimited topics ignore enc.
func (g *Generator) Payload(topicName string, enc Encoder) ([]byte, error) {
	switch topicName {
	case record.TopicShopping:
		return g.Shopping(), nil
	case record.TopicUserVisit:
		return g.UserVisit(), nil
	case record.TopicClick:
		return enc(topicName, g.Click())
	case record.TopicImpression:
		return enc(topicName, g.Impression())
	case record.TopicDau:
		return enc(topicName, g.Dau())
	default:
		return nil, fmt.Errorf("no generator for topic %s", topicName)
	}
}
