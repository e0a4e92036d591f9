package safeexit

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestExitRunsCallbacksOnceInReverse(t *testing.T) {
	s := New(logrus.New())
	var order []int
	s.Register(func() { order = append(order, 1) })
	s.Register(func() { order = append(order, 2) })

	s.Exit()
	s.Exit()

	assert.Equal(t, []int{2, 1}, order)
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Exit")
	}
}
