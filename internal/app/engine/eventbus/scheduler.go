package eventbus

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler owns every scheduled rule and fires them at their computed
// next fire time, recomputing after each fire. Grounded on the teacher's
// internal/app/services/automation.Scheduler shape: a lifecycle-managed
// background goroutine driven by context cancellation and a WaitGroup,
// except here each rule gets its own timer instead of one shared ticker,
// since rules have independent schedules rather than one shared interval.
type Scheduler struct {
	engine *Engine
	log    *logrus.Entry

	mu      sync.Mutex
	entries map[string]*scheduleEntry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type scheduleEntry struct {
	rule   Rule
	bus    string
	timer  *time.Timer
	cancel context.CancelFunc
}

var rateExpr = regexp.MustCompile(`^rate\((\d+)\s+(minute|minutes|hour|hours|day|days)\)$`)

// cronParser accepts the standard 5-field crontab form, matching
// robfig/cron/v3's default outside of the with-seconds variant.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func newScheduler(engine *Engine, log *logrus.Entry) *Scheduler {
	return &Scheduler{engine: engine, log: log, entries: make(map[string]*scheduleEntry)}
}

// Start launches the scheduler; entries registered before Start schedule
// their first timer immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	_, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	entries := make([]*scheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.scheduleNext(e)
	}
}

// Stop halts every rule's timer and waits for in-flight fires to settle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) key(bus, rule string) string { return bus + "/" + rule }

// register adds or replaces a scheduled rule and (re)arms its timer if
// the scheduler is already running.
func (s *Scheduler) register(bus string, rule Rule) error {
	next, err := nextFireTime(rule.Schedule, time.Now())
	if err != nil {
		return fmt.Errorf("rule %s: %w", rule.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.key(bus, rule.Name)
	if existing, ok := s.entries[key]; ok && existing.timer != nil {
		existing.timer.Stop()
	}
	entry := &scheduleEntry{rule: rule, bus: bus}
	s.entries[key] = entry

	if s.running {
		s.armLocked(entry, next)
	}
	return nil
}

func (s *Scheduler) unregister(bus, ruleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(bus, ruleName)
	if existing, ok := s.entries[key]; ok {
		if existing.timer != nil {
			existing.timer.Stop()
		}
		delete(s.entries, key)
	}
}

func (s *Scheduler) armLocked(entry *scheduleEntry, next time.Time) {
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	entry.timer = time.AfterFunc(delay, func() { s.fire(entry) })
}

func (s *Scheduler) scheduleNext(entry *scheduleEntry) {
	next, err := nextFireTime(entry.rule.Schedule, time.Now())
	if err != nil {
		s.log.WithField("rule", entry.rule.Name).WithError(err).Error("compute next fire time")
		return
	}
	s.mu.Lock()
	if s.running {
		s.armLocked(entry, next)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fire(entry *scheduleEntry) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	s.engine.fireScheduled(entry.rule)
	s.scheduleNext(entry)
}

// nextFireTime computes the next fire time for a "rate(...)" or
// "cron(...)" schedule expression. rate() has no analogue in
// robfig/cron/v3, so it is parsed by hand; cron() delegates to the
// library's standard 5-field parser.
func nextFireTime(expr string, from time.Time) (time.Time, error) {
	if m := rateExpr.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, err
		}
		var unit time.Duration
		switch m[2] {
		case "minute", "minutes":
			unit = time.Minute
		case "hour", "hours":
			unit = time.Hour
		case "day", "days":
			unit = 24 * time.Hour
		}
		return from.Add(time.Duration(n) * unit), nil
	}
	if len(expr) > 6 && expr[:5] == "cron(" && expr[len(expr)-1] == ')' {
		schedule, err := cronParser.Parse(expr[5 : len(expr)-1])
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression: %w", err)
		}
		return schedule.Next(from), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized schedule expression %q", expr)
}
