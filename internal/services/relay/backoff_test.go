package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	relaymocks "github.com/BearBump/FreightDesk/internal/services/relay/mocks"
)

type BackoffSuite struct {
	suite.Suite
}

func (s *BackoffSuite) TestSteps_NoJitter() {
	b := NewBackoff(BackoffConfig{Jitter: -1}, &relaymocks.Rand{})
	s.Equal(5*time.Second, b.Delay(0))
	s.Equal(5*time.Second, b.Delay(1))
	s.Equal(15*time.Second, b.Delay(2))
	s.Equal(60*time.Second, b.Delay(3))
	s.Equal(5*time.Minute, b.Delay(4))
	s.Equal(5*time.Minute, b.Delay(100))
}

func (s *BackoffSuite) TestJitter_UsesRand() {
	m := &relaymocks.Rand{}
	m.On("Intn", 3).Return(2).Once()

	b := NewBackoff(BackoffConfig{Step1: time.Second, Jitter: 2 * time.Second}, m)
	s.Equal(3*time.Second, b.Delay(1))
	m.AssertExpectations(s.T())
}

func (s *BackoffSuite) TestDefaultsFillZeroes() {
	m := &relaymocks.Rand{}
	m.On("Intn", mock.Anything).Return(0).Maybe()

	b := NewBackoff(BackoffConfig{Step2: 42 * time.Second}, m)
	s.Equal(5*time.Second, b.Delay(1))
	s.Equal(42*time.Second, b.Delay(2))
}

func TestBackoffSuite(t *testing.T) {
	suite.Run(t, new(BackoffSuite))
}
