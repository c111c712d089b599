package relay

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

// BackoffConfig задаёт паузы перед повторной публикацией события по номеру попытки.
type BackoffConfig struct {
	Step1 time.Duration // default: 5 seconds
	Step2 time.Duration // default: 15 seconds
	Step3 time.Duration // default: 60 seconds
	Step4 time.Duration // default: 5 minutes

	// Jitter is added on top of every step, uniformly in [0, Jitter].
	Jitter time.Duration
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Step1:  5 * time.Second,
		Step2:  15 * time.Second,
		Step3:  60 * time.Second,
		Step4:  5 * time.Minute,
		Jitter: 2 * time.Second,
	}
}

type Backoff struct {
	cfg BackoffConfig
	r   Rand
}

func NewBackoff(cfg BackoffConfig, r Rand) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Step1 <= 0 {
		cfg.Step1 = def.Step1
	}
	if cfg.Step2 <= 0 {
		cfg.Step2 = def.Step2
	}
	if cfg.Step3 <= 0 {
		cfg.Step3 = def.Step3
	}
	if cfg.Step4 <= 0 {
		cfg.Step4 = def.Step4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Backoff{cfg: cfg, r: r}
}

// Delay returns the pause after the given number of failed attempts.
func (b *Backoff) Delay(attempts int32) time.Duration {
	var d time.Duration
	switch {
	case attempts <= 1:
		d = b.cfg.Step1
	case attempts == 2:
		d = b.cfg.Step2
	case attempts == 3:
		d = b.cfg.Step3
	default:
		d = b.cfg.Step4
	}
	if sec := int(b.cfg.Jitter.Seconds()); sec > 0 {
		d += time.Duration(b.r.Intn(sec+1)) * time.Second
	}
	return d
}
