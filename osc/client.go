// Package osc carries the control protocol: a UDP OSC server for inbound
// commands and a UDP client for outbound messages. Argument order on every
// address is a stable contract with the clients.
package osc

import (
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"hibikido/logger"
	"hibikido/model"
)

// Outbound addresses.
const (
	addrManifest     = "/manifest"
	addrConfirm      = "/confirm"
	addrError        = "/error"
	addrStatsResult  = "/stats_result"
	addrSegmentField = "/segment_field"
	addrNiche        = "/niche"
)

// Client sends outbound messages to the configured peer.
type Client struct {
	client *osc.Client
}

// NewClient creates the outbound sender.
func NewClient(ip string, port int) *Client {
	return &Client{client: osc.NewClient(ip, port)}
}

func (c *Client) send(msg *osc.Message) {
	if err := c.client.Send(msg); err != nil {
		logger.Warn("outbound send failed",
			logger.String("address", msg.Address),
			logger.ErrorField(err))
	}
}

// SendManifest emits one announcement: index, collection, score, path,
// description, start, end, metadata.
func (c *Client) SendManifest(ann model.Announcement) error {
	msg := osc.NewMessage(addrManifest)
	msg.Append(int32(ann.Index))
	msg.Append(ann.Collection)
	msg.Append(float32(ann.Score))
	msg.Append(ann.Path)
	msg.Append(ann.Description)
	msg.Append(float32(ann.Start))
	msg.Append(float32(ann.End))
	msg.Append(ann.Metadata)
	if err := c.client.Send(msg); err != nil {
		return fmt.Errorf("send manifest: %w", err)
	}
	return nil
}

// SendConfirm acknowledges a command.
func (c *Client) SendConfirm(text string) {
	msg := osc.NewMessage(addrConfirm)
	msg.Append(text)
	c.send(msg)
}

// SendError reports a command-level failure.
func (c *Client) SendError(text string) {
	msg := osc.NewMessage(addrError)
	msg.Append(text)
	c.send(msg)
}

// Stats is the seven-counter reply to a stats request.
type Stats struct {
	Recordings   int
	Segments     int
	Effects      int
	Presets      int
	Embeddings   int
	ActiveNiches int
	Queued       int
}

// SendStatsResult emits the seven counters in their contract order.
func (c *Client) SendStatsResult(s Stats) {
	msg := osc.NewMessage(addrStatsResult)
	for _, v := range []int{
		s.Recordings, s.Segments, s.Effects, s.Presets,
		s.Embeddings, s.ActiveNiches, s.Queued,
	} {
		msg.Append(int32(v))
	}
	c.send(msg)
}

// SendSegmentField replies to a field projection request.
func (c *Client) SendSegmentField(id int64, fieldPath, value string) {
	msg := osc.NewMessage(addrSegmentField)
	msg.Append(int32(id))
	msg.Append(fieldPath)
	msg.Append(value)
	c.send(msg)
}

// SendNiche emits a niche occupation event: segment id followed by the 24
// normalized Bark band values.
func (c *Client) SendNiche(segmentID int64, barkNorm []float64) {
	msg := osc.NewMessage(addrNiche)
	msg.Append(int32(segmentID))
	for _, v := range barkNorm {
		msg.Append(float32(v))
	}
	c.send(msg)
}
