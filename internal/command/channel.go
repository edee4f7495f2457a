package command

import "context"

// Request carries a command and the channel its single reply is sent on.
type Request struct {
	Cmd   Command
	reply chan Response
}

// Reply sends resp to the submitter. It never blocks.
func (r Request) Reply(resp Response) {
	select {
	case r.reply <- resp:
	default:
	}
}

// Channel is the single-consumer command queue into the control loop.
type Channel struct {
	reqs chan Request
}

// NewChannel creates a Channel holding up to size pending commands.
func NewChannel(size int) *Channel {
	return &Channel{reqs: make(chan Request, size)}
}

// Requests is the consumer side.
func (c *Channel) Requests() <-chan Request {
	return c.reqs
}

// Submit enqueues cmd and waits for its reply. The error is the loop's
// failure handling cmd, or ctx's.
func (c *Channel) Submit(ctx context.Context, cmd Command) (Response, error) {
	req := Request{Cmd: cmd, reply: make(chan Response, 1)}
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, resp.Err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
