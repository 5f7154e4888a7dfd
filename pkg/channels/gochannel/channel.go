// Package gochannel provides the in-process event transport used for a
// single-binary deployment and in tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
// Events published before a subscriber attaches are dropped, matching Kafka's
// newest-offset behaviour.
func CreateChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := newPubSub(logger, 1000, false)

	return pubSub, pubSub, nil
}

// CreateTestChannel keeps published messages so late subscribers still see
// them.
func CreateTestChannel(logger watermill.LoggerAdapter) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := newPubSub(logger, 100, true)

	return pubSub, pubSub, nil
}

func newPubSub(logger watermill.LoggerAdapter, buffer int64, persistent bool) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: buffer,
		Persistent:          persistent,
	}, logger)
}
