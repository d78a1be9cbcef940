package lightningd

import (
	"context"
	"errors"
)

// Run launches a node, calls fn with it and stops the node when fn returns
// or panics. A panic is re-raised after cleanup.
func Run(ctx context.Context, exe string, conf Conf, fn func(context.Context, *Node) error) (err error) {
	node, err := Launch(ctx, exe, conf)
	if err != nil {
		return err
	}

	defer func() {
		r := recover()
		stopErr := node.Stop()
		if r != nil {
			panic(r)
		}
		err = errors.Join(err, stopErr)
	}()

	return fn(ctx, node)
}
