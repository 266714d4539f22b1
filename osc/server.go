package osc

import (
	"context"
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"hibikido/logger"
)

// Inbound addresses.
const (
	addrInvoke          = "/invoke"
	addrAddRecording    = "/add_recording"
	addrAddSegment      = "/add_segment"
	addrAddEffect       = "/add_effect"
	addrAddPreset       = "/add_preset"
	addrRebuildIndex    = "/rebuild_index"
	addrStats           = "/stats"
	addrListSegments    = "/list_segments"
	addrGetSegmentField = "/get_segment_field"
	addrGenerateDesc    = "/generate_description"
	addrStop            = "/stop"
)

// Handler receives parsed inbound commands. Implementations send their own
// confirm and error replies; the transport only rejects malformed argument
// tuples.
type Handler interface {
	Invoke(text string)
	AddRecording(path, description string)
	AddSegment(path, description string, start, end float64)
	AddEffect(path, jsonObject string)
	AddPreset(description, jsonObject string)
	RebuildIndex()
	Stats()
	ListSegments()
	GetSegmentField(id int64, fieldPath string)
	GenerateDescription(collection string, id int64, force bool)
	Stop()
}

// Server listens for inbound commands over UDP.
type Server struct {
	addr    string
	server  *osc.Server
	handler Handler
	client  *Client // for argument-level error replies
}

// NewServer wires the address table to handler. Argument parse failures are
// answered with an error message through client and never reach handler.
func NewServer(ip string, port int, handler Handler, client *Client) *Server {
	s := &Server{
		addr:    fmt.Sprintf("%s:%d", ip, port),
		handler: handler,
		client:  client,
	}

	d := osc.NewStandardDispatcher()
	must := func(addr string, fn func(*osc.Message)) {
		if err := d.AddMsgHandler(addr, fn); err != nil {
			panic(err) // duplicate address registration, programming error
		}
	}

	must(addrInvoke, s.onInvoke)
	must(addrAddRecording, s.onAddRecording)
	must(addrAddSegment, s.onAddSegment)
	must(addrAddEffect, s.onAddEffect)
	must(addrAddPreset, s.onAddPreset)
	must(addrRebuildIndex, func(*osc.Message) { handler.RebuildIndex() })
	must(addrStats, func(*osc.Message) { handler.Stats() })
	must(addrListSegments, func(*osc.Message) { handler.ListSegments() })
	must(addrGetSegmentField, s.onGetSegmentField)
	must(addrGenerateDesc, s.onGenerateDescription)
	must(addrStop, func(*osc.Message) { handler.Stop() })

	s.server = &osc.Server{Addr: s.addr, Dispatcher: d}
	return s
}

// ListenAndServe blocks serving inbound messages until the listener fails
// or Close is called.
func (s *Server) ListenAndServe() error {
	logger.Info("control listener up", logger.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Close shuts the listener down.
func (s *Server) Close(ctx context.Context) error {
	return s.server.CloseConnection()
}

func (s *Server) reject(address string, err error) {
	logger.Warn("malformed command",
		logger.String("address", address),
		logger.ErrorField(err))
	s.client.SendError(fmt.Sprintf("%s: %v", address, err))
}

func (s *Server) onInvoke(msg *osc.Message) {
	text, err := stringArg(msg, 0)
	if err != nil {
		s.reject(addrInvoke, err)
		return
	}
	s.handler.Invoke(text)
}

func (s *Server) onAddRecording(msg *osc.Message) {
	path, err := stringArg(msg, 0)
	if err != nil {
		s.reject(addrAddRecording, err)
		return
	}
	description, err := stringArg(msg, 1)
	if err != nil {
		s.reject(addrAddRecording, err)
		return
	}
	s.handler.AddRecording(path, description)
}

// onAddSegment parses (path, description, "start", float, "end", float);
// the keyword tokens are literal parts of the contract.
func (s *Server) onAddSegment(msg *osc.Message) {
	if len(msg.Arguments) != 6 {
		s.reject(addrAddSegment, fmt.Errorf("want 6 arguments, got %d", len(msg.Arguments)))
		return
	}
	path, err := stringArg(msg, 0)
	if err != nil {
		s.reject(addrAddSegment, err)
		return
	}
	description, err := stringArg(msg, 1)
	if err != nil {
		s.reject(addrAddSegment, err)
		return
	}
	for i, want := range map[int]string{2: "start", 4: "end"} {
		token, err := stringArg(msg, i)
		if err != nil || token != want {
			s.reject(addrAddSegment, fmt.Errorf("argument %d must be %q", i, want))
			return
		}
	}
	start, err := floatArg(msg, 3)
	if err != nil {
		s.reject(addrAddSegment, err)
		return
	}
	end, err := floatArg(msg, 5)
	if err != nil {
		s.reject(addrAddSegment, err)
		return
	}
	s.handler.AddSegment(path, description, start, end)
}

func (s *Server) onAddEffect(msg *osc.Message) {
	path, err := stringArg(msg, 0)
	if err != nil {
		s.reject(addrAddEffect, err)
		return
	}
	obj, err := stringArg(msg, 1)
	if err != nil {
		s.reject(addrAddEffect, err)
		return
	}
	s.handler.AddEffect(path, obj)
}

func (s *Server) onAddPreset(msg *osc.Message) {
	description, err := stringArg(msg, 0)
	if err != nil {
		s.reject(addrAddPreset, err)
		return
	}
	obj, err := stringArg(msg, 1)
	if err != nil {
		s.reject(addrAddPreset, err)
		return
	}
	s.handler.AddPreset(description, obj)
}

func (s *Server) onGetSegmentField(msg *osc.Message) {
	id, err := intArg(msg, 0)
	if err != nil {
		s.reject(addrGetSegmentField, err)
		return
	}
	fieldPath, err := stringArg(msg, 1)
	if err != nil {
		s.reject(addrGetSegmentField, err)
		return
	}
	s.handler.GetSegmentField(id, fieldPath)
}

func (s *Server) onGenerateDescription(msg *osc.Message) {
	collection, err := stringArg(msg, 0)
	if err != nil {
		s.reject(addrGenerateDesc, err)
		return
	}
	id, err := intArg(msg, 1)
	if err != nil {
		s.reject(addrGenerateDesc, err)
		return
	}
	force := false
	if len(msg.Arguments) > 2 {
		token, err := stringArg(msg, 2)
		if err != nil || token != "force" {
			s.reject(addrGenerateDesc, fmt.Errorf(`argument 2 must be "force"`))
			return
		}
		force = true
	}
	s.handler.GenerateDescription(collection, id, force)
}

func stringArg(msg *osc.Message, i int) (string, error) {
	if i >= len(msg.Arguments) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	v, ok := msg.Arguments[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i, msg.Arguments[i])
	}
	return v, nil
}

func floatArg(msg *osc.Message, i int) (float64, error) {
	if i >= len(msg.Arguments) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := msg.Arguments[i].(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("argument %d: want float, got %T", i, msg.Arguments[i])
	}
}

func intArg(msg *osc.Message, i int) (int64, error) {
	if i >= len(msg.Arguments) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := msg.Arguments[i].(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("argument %d: want int, got %T", i, msg.Arguments[i])
	}
}
