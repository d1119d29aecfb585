package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/corkboard/corkboard/types"
)

func TestBoardMembership(t *testing.T) {
	registry := boards{open: make(map[int64]*board)}
	a := &client{userID: 1}
	b := &client{userID: 2}

	first := registry.join(10, a)
	second := registry.join(10, b)
	assert.Same(t, first, second, "connections on one whiteboard share a board")
	assert.Len(t, first.clients, 2)

	other := registry.join(11, a)
	assert.NotSame(t, first, other)

	registry.leave(10, a)
	assert.Len(t, first.clients, 1)

	// the last member leaving closes out the board
	registry.leave(10, b)
	_, exists := registry.open[10]
	assert.False(t, exists)

	// leaving a board that is already gone is harmless
	registry.leave(10, b)
	registry.leave(99, a)
}

// A connection is written to both by its own handler goroutine and by other
// members' goroutines via broadcast, so the writes must be serialized: the
// websocket package forbids concurrent writers. Hammer one live connection
// from both directions and check that every message arrives intact.
func TestBoardWritesAreSerialized(t *testing.T) {
	const perWriter = 50
	registry := boards{open: make(map[int64]*board)}
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		socket, err := websocket.Upgrade(w, r, nil, 1024, 1024)
		if !assert.NoError(t, err) {
			return
		}
		self := &client{socket: socket, userID: 1}
		live := registry.join(10, self)
		defer registry.leave(10, self)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWriter; j++ {
					live.broadcast(nil, &BoardResponse{Deleted: &BoardDelete{UUID: "x"}, UserID: 2})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				self.writeJSON(&BoardResponse{UserID: 1})
			}
		}()
		wg.Wait()
		socket.Close()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	received := 0
	for {
		res := new(BoardResponse)
		if err := conn.ReadJSON(res); err != nil {
			break
		}
		assert.Empty(t, res.Error)
		received++
	}
	<-done
	assert.Equal(t, 3*perWriter, received)
}
