package sender

import (
	"context"
	"sync"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/echo"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/event"
)

// FakeTransport is an in-process Transport for tests and examples. It
// ignores the first Count transmissions of each echo and then publishes a
// response on Bus.
type FakeTransport struct {
	Bus   *event.Bus
	Count int

	// Reply builds the response data. Nil replies with success and no data.
	Reply func(msg Outbound) (success bool, raw []byte)

	mu   sync.Mutex
	sent map[string]int
}

var _ Transport = (*FakeTransport)(nil)

// Transmit records msg and answers it once Count transmissions were ignored.
func (f *FakeTransport) Transmit(ctx context.Context, msg Outbound) error {
	f.mu.Lock()
	if f.sent == nil {
		f.sent = make(map[string]int)
	}
	f.sent[msg.Echo]++
	n := f.sent[msg.Echo]
	f.mu.Unlock()

	if n <= f.Count {
		return nil
	}

	success, raw := true, []byte(nil)
	if f.Reply != nil {
		success, raw = f.Reply(msg)
	}
	f.Bus.Push(ctx, &echo.ResponseEvent{
		Success: success,
		Echo:    msg.Echo,
		RawData: raw,
	})
	return nil
}

// Transmissions returns how often token was transmitted.
func (f *FakeTransport) Transmissions(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[token]
}
