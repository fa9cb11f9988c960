package event

import (
	"errors"

	"github.com/Sh00ty/hoststated/internal/imsg"
)

// WatchChannel drives ch from the loop: complete frames go to dispatch,
// queued output is flushed whenever the socket accepts it. Any transport
// error, or a dispatch error, is passed to fail once and the channel is
// unwatched.
func (l *Loop) WatchChannel(ch *imsg.Channel, dispatch func(imsg.Message) error, fail func(error)) {
	failed := false
	abort := func(err error) {
		if failed {
			return
		}
		failed = true
		l.Unwatch(ch.Fd())
		fail(err)
	}
	l.Watch(ch.Fd(), &Handler{
		OnRead: func() {
			msgs, err := ch.Receive()
			if err != nil {
				abort(err)
				return
			}
			for msg, err := range msgs {
				if err != nil {
					abort(err)
					return
				}
				if err := dispatch(msg); err != nil {
					abort(err)
					return
				}
				if failed {
					return
				}
			}
		},
		OnWrite: func() {
			_, err := ch.Flush()
			if err != nil && !errors.Is(err, imsg.ErrWouldBlock) {
				abort(err)
			}
		},
		WantWrite: ch.Pending,
	})
}
