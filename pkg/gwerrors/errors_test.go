package gwerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamSanitizesLongMessage(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	err := NewUpstream(503, string(long))
	assert.Len(t, err.Message, 500)
}

func TestRetriable(t *testing.T) {
	cases := []struct {
		err  *Error
		want bool
	}{
		{NewTransport("dial failed", nil), true},
		{NewUpstream(503, "unavailable"), true},
		{NewUpstream(429, "rate limited"), true},
		{NewUpstream(404, "not found"), false},
		{NewUpstream(400, "bad request"), false},
		{NewInvalidRequest("bad json", nil), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.Retriable(), "status=%d category=%s", c.err.UpstreamStatus, c.err.Category)
	}
}

func TestTripsBreaker(t *testing.T) {
	assert.True(t, NewTransport("reset", nil).TripsBreaker())
	assert.True(t, NewUpstream(503, "x").TripsBreaker())
	assert.True(t, NewUpstream(429, "x").TripsBreaker())
	assert.True(t, NewUpstream(529, "x").TripsBreaker())
	assert.False(t, NewUpstream(404, "x").TripsBreaker())
	assert.False(t, NewUpstream(400, "x").TripsBreaker())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 401, NewAuth("no key").HTTPStatus())
	assert.Equal(t, 400, NewInvalidRequest("bad", nil).HTTPStatus())
	assert.Equal(t, 404, NewUpstream(404, "x").HTTPStatus())
	assert.Equal(t, 500, NewUpstream(503, "x").HTTPStatus())
	assert.Equal(t, 500, NewInternal("boom", nil).HTTPStatus())
}
