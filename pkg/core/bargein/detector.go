package bargein

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Default configuration values.
const (
	DefaultSampleRate         = 16000
	DefaultNumChannels        = 1
	DefaultEncoding           = "pcm_s16le"
	DefaultThreshold          = 0.5
	DefaultMinFrames          = 5
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 500 * time.Millisecond
	DefaultDialTimeout        = 10 * time.Second
	DefaultHandshakeTimeout   = 5 * time.Second
	DefaultProbabilityWindowS = 0.2
)

// eventBufferSize absorbs short consumer stalls without blocking the read
// loop.
const eventBufferSize = 32

// Sentinel errors.
var (
	// ErrNotConnected is returned by sends between an unexpected socket close
	// and an explicit Reconnect. The detector never reconnects on its own.
	ErrNotConnected = errors.New("bargein: not connected")

	// ErrSessionClosed is returned once Close has been called or a fatal
	// service error ended the session.
	ErrSessionClosed = errors.New("bargein: session closed")
)

// Config configures a Detector. Zero values are filled with defaults.
type Config struct {
	// URL is the detector service WebSocket endpoint. Required.
	URL string

	// APIKey, when set, is sent as a bearer token during the handshake.
	APIKey string

	// Audio settings announced in session.create.
	SampleRate  int
	NumChannels int
	Encoding    string

	// Threshold and MinFrames tune the server-side decision.
	Threshold float64
	MinFrames int

	// MaxRetries is the number of additional connect attempts after the
	// first; Connect makes MaxRetries+1 attempts in total.
	MaxRetries int

	// RetryBackoff is the sleep before the first retry; it doubles on each
	// subsequent attempt.
	RetryBackoff time.Duration

	// DialTimeout bounds the WebSocket handshake; HandshakeTimeout bounds the
	// wait for the session.created ack.
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	// ProbabilityWindowS is the sustained-duration threshold used to derive
	// the single probability on emitted events.
	ProbabilityWindowS float64

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger

	// OnSpanUpdate, when set, is called after every response merge with a
	// copy of the merged span, for external timing observability.
	OnSpanUpdate func(*Span)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.NumChannels == 0 {
		c.NumChannels = DefaultNumChannels
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MinFrames == 0 {
		c.MinFrames = DefaultMinFrames
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ProbabilityWindowS == 0 {
		c.ProbabilityWindowS = DefaultProbabilityWindowS
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Detector streams candidate audio to the detector service over one logical
// WebSocket session and turns its asynchronous verdicts into at most one
// interruption event per overlap window.
//
// All response correlation and span merging runs on the inbound read loop;
// the outbound path performs one insert per chunk. The two paths share the
// span cache, so every cache access goes through spansMu.
type Detector struct {
	cfg    Config
	state  StateStore
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex // guards conn, connected, sessionID
	conn      *websocket.Conn
	connected bool
	sessionID string

	writeMu sync.Mutex // serializes socket writes
	spansMu sync.Mutex // serializes span cache access across send and read paths

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewDetector creates a Detector bound to externally owned session state.
// Call Connect before sending audio.
func NewDetector(cfg Config, state StateStore) (*Detector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bargein: detector url is required")
	}
	if state == nil {
		return nil, fmt.Errorf("bargein: state store is required")
	}
	cfg.defaults()
	return &Detector{
		cfg:    cfg,
		state:  state,
		logger: cfg.Logger,
		now:    cfg.Now,
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}, nil
}

// Connect dials the detector service and completes the session.create
// handshake, retrying with doubling backoff up to MaxRetries+1 total
// attempts. Exhausting retries wraps the last underlying error; the detector
// does not retry again on its own afterward.
func (d *Detector) Connect(ctx context.Context) error {
	select {
	case <-d.done:
		return ErrSessionClosed
	default:
	}

	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	var lastErr error
	backoff := d.cfg.RetryBackoff
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
		}

		err := d.connectOnce(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		d.logger.Warn("bargein connect attempt failed",
			"attempt", attempt+1, "max_attempts", d.cfg.MaxRetries+1, "error", err)
	}
	return fmt.Errorf("connect after %d attempts: %w", d.cfg.MaxRetries+1, lastErr)
}

func (d *Detector) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.DialTimeout}
	header := http.Header{}
	if d.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	conn, resp, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	create := clientMessage{
		Type: msgSessionCreate,
		Settings: &sessionSettings{
			SampleRate:  d.cfg.SampleRate,
			NumChannels: d.cfg.NumChannels,
			Threshold:   d.cfg.Threshold,
			MinFrames:   d.cfg.MinFrames,
			Encoding:    d.cfg.Encoding,
		},
	}
	if err := conn.WriteJSON(create); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send session.create: %w", err)
	}

	// Hold the connection back until the service acknowledges the session.
	if err := awaitSessionCreated(conn, d.cfg.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return err
	}

	sessionID := fmt.Sprintf("bg_%d", time.Now().UnixNano())
	d.mu.Lock()
	d.conn = conn
	d.connected = true
	d.sessionID = sessionID
	d.mu.Unlock()

	go d.readLoop(conn, sessionID)

	d.logger.Info("bargein session connected",
		"session_id", sessionID, "url", d.cfg.URL, "sample_rate", d.cfg.SampleRate)
	return nil
}

func awaitSessionCreated(conn *websocket.Conn, timeout time.Duration) error {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await session.created: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgSessionCreated:
			return nil
		case msgError:
			return &ProtocolError{Code: msg.Code, Message: msg.Message}
		}
	}
}

// Reconnect tears down the current socket, including a courtesy
// session.close, then dials a fresh session. The prior socket is fully closed
// before the new connect begins; two sockets are never open concurrently.
// Owners call this after configuration changes or an unexpected close.
func (d *Detector) Reconnect(ctx context.Context) error {
	select {
	case <-d.done:
		return ErrSessionClosed
	default:
	}
	d.disconnect(true)
	return d.Connect(ctx)
}

// SendAudio forwards one audio chunk to the detector service. Chunks arriving
// while no overlap window is open are dropped, not buffered: only audio that
// coincides with agent speech is worth scoring. A write failure on an open
// socket is logged and swallowed so one lost chunk cannot tear down an active
// decision window.
func (d *Detector) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-d.done:
		return ErrSessionClosed
	default:
	}

	st := d.state.State()
	if !st.OverlapSpeechStarted || st.OverlapSpeechStartedAt == nil {
		return nil
	}

	d.mu.Lock()
	conn, connected, sessionID := d.conn, d.connected, d.sessionID
	d.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	startedAt := d.now()
	createdAt := startedAt.UnixMilli()

	header := encodeFrameTimestamp(createdAt)
	frame := make([]byte, 0, frameHeaderSize+len(chunk))
	frame = append(frame, header[:]...)
	frame = append(frame, chunk...)

	d.spansMu.Lock()
	st.Spans.SetOrUpdate(createdAt,
		func() *Span { return &Span{CreatedAt: createdAt} },
		func(s *Span) *Span {
			s.Merge(SpanUpdate{RequestStartedAt: &startedAt, SpeechInput: chunk})
			return s
		},
	)
	d.spansMu.Unlock()

	d.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	d.writeMu.Unlock()
	if err != nil {
		d.logger.Warn("bargein audio send failed",
			"session_id", sessionID, "created_at", createdAt, "error", err)
	}
	return nil
}

// Pipe drains in until it closes, ctx is canceled, or the session ends. Byte
// slices are treated as audio chunks; anything else is forwarded to the
// events channel untouched.
func (d *Detector) Pipe(ctx context.Context, in <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case item, ok := <-in:
			if !ok {
				return
			}
			switch v := item.(type) {
			case []byte:
				if err := d.SendAudio(v); err != nil {
					d.logger.Debug("bargein audio chunk dropped", "error", err)
				}
			default:
				d.emit(item)
			}
		}
	}
}

// Events returns the output channel of interruption events and forwarded
// foreign events. Consumers select on it together with Done; when Done
// closes, Err reports why the session ended.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Done is closed when the session ends, by Close or by a fatal service error.
func (d *Detector) Done() <-chan struct{} {
	return d.done
}

// Err returns the fatal error that ended the session, or nil after a clean
// Close.
func (d *Detector) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// Close sends a best-effort session.close and shuts the detector down. Send
// failures during teardown are logged, not raised: a detector shutdown is not
// an application-fatal condition.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.disconnect(true)
	})
	return nil
}

func (d *Detector) fail(err error) {
	d.errMu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.errMu.Unlock()
	d.closeOnce.Do(func() {
		close(d.done)
		d.disconnect(false)
	})
}

// disconnect closes the current socket, optionally preceded by a courtesy
// session.close. Safe to call with no socket open.
func (d *Detector) disconnect(courtesy bool) {
	d.mu.Lock()
	conn := d.conn
	connected := d.connected
	sessionID := d.sessionID
	d.conn = nil
	d.connected = false
	d.mu.Unlock()

	if conn == nil {
		return
	}
	if courtesy && connected {
		d.writeMu.Lock()
		if err := conn.WriteJSON(clientMessage{Type: msgSessionClose}); err != nil {
			d.logger.Debug("bargein session.close send failed",
				"session_id", sessionID, "error", err)
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		d.writeMu.Unlock()
	}
	_ = conn.Close()
}

func (d *Detector) readLoop(conn *websocket.Conn, sessionID string) {
	defer func() {
		d.mu.Lock()
		if d.conn == conn {
			d.connected = false
		}
		d.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-d.done:
			default:
				// Not self-healing: sends now fail fast with ErrNotConnected
				// until the owner calls Reconnect.
				d.logger.Warn("bargein socket closed",
					"session_id", sessionID, "error", err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Warn("bargein message parse failed",
				"session_id", sessionID, "error", err)
			continue
		}

		if terminal := d.handleMessage(&msg, sessionID); terminal {
			return
		}
	}
}

func (d *Detector) handleMessage(msg *serverMessage, sessionID string) bool {
	switch msg.Type {
	case msgBargeinDetected:
		d.handleVerdict(msg, sessionID, true)
	case msgInferenceDone:
		d.handleVerdict(msg, sessionID, false)
	case msgSessionCreated, msgSessionClosed:
		d.logger.Debug("bargein session message",
			"session_id", sessionID, "type", msg.Type)
	case msgError:
		err := &ProtocolError{Code: msg.Code, Message: msg.Message}
		d.logger.Error("bargein service reported fatal error",
			"session_id", sessionID, "error", err)
		d.fail(err)
		return true
	default:
		d.logger.Debug("bargein message ignored",
			"session_id", sessionID, "type", msg.Type)
	}
	return false
}

// handleVerdict correlates a detection response back to its span and, for a
// confirmed bargein inside a still-open overlap window, emits exactly one
// interruption event and closes the window.
func (d *Detector) handleVerdict(msg *serverMessage, sessionID string, confirmed bool) {
	st := d.state.State()

	if confirmed && (!st.OverlapSpeechStarted || st.OverlapSpeechStartedAt == nil) {
		// Stale verdict for a window that already closed: no span mutation,
		// no event.
		d.logger.Debug("bargein verdict after window closed",
			"session_id", sessionID, "created_at", msg.CreatedAt)
		return
	}

	now := d.now()

	d.spansMu.Lock()

	// Round-trip duration from the original high-resolution send time; when
	// the span was evicted or originated from this response, approximate
	// from the response's own timestamp instead of failing.
	totalS := float64(now.UnixMilli()-msg.CreatedAt) / 1000
	if existing, ok := st.Spans.Get(msg.CreatedAt); ok && !existing.RequestStartedAt.IsZero() {
		totalS = now.Sub(existing.RequestStartedAt).Seconds()
	}

	update := SpanUpdate{
		TotalDurationS:      &totalS,
		PredictionDurationS: &msg.PredictionDuration,
		Probabilities:       msg.Probabilities,
	}
	// Delay since overlap onset is only meaningful while a window start is
	// known; with none recorded the field stays unset on the span.
	var detectionDelayS float64
	if st.OverlapSpeechStartedAt != nil {
		detectionDelayS = now.Sub(*st.OverlapSpeechStartedAt).Seconds()
		update.DetectionDelayS = &detectionDelayS
	}
	if confirmed {
		yes := true
		update.IsInterruption = &yes
	} else if msg.IsBargein != nil {
		update.IsInterruption = msg.IsBargein
	}

	// Speech input and the original send time survive the merge: only the
	// defined response fields overwrite.
	span := st.Spans.SetOrUpdate(msg.CreatedAt,
		func() *Span { return &Span{CreatedAt: msg.CreatedAt} },
		func(s *Span) *Span {
			s.Merge(update)
			return s
		},
	)

	// Snapshot before unlocking: the send path may merge into the same span
	// concurrently.
	snapshot := *span
	d.spansMu.Unlock()

	if d.cfg.OnSpanUpdate != nil {
		d.cfg.OnSpanUpdate(&snapshot)
	}

	if !confirmed {
		// inference_done is bookkeeping only: never emits, never touches the
		// overlap flag.
		d.logger.Debug("bargein inference done",
			"session_id", sessionID, "created_at", msg.CreatedAt,
			"prediction_duration_s", msg.PredictionDuration)
		return
	}

	event := &InterruptionEvent{
		Timestamp:              snapshot.CreatedAt,
		IsInterruption:         true,
		TotalDurationS:         totalS,
		PredictionDurationS:    msg.PredictionDuration,
		OverlapSpeechStartedAt: *st.OverlapSpeechStartedAt,
		SpeechInput:            snapshot.SpeechInput,
		Probabilities:          snapshot.Probabilities,
		DetectionDelayS:        detectionDelayS,
		Probability:            snapshot.Probability(d.cfg.ProbabilityWindowS),
	}

	// One-shot per window: flip the flag before emitting so a second verdict
	// for the same window is ignored.
	off := false
	d.state.Apply(StateUpdate{OverlapSpeechStarted: &off})

	d.emit(event)
	d.logger.Info("bargein confirmed",
		"session_id", sessionID, "created_at", snapshot.CreatedAt,
		"total_duration_s", totalS, "detection_delay_s", detectionDelayS,
		"probability", event.Probability)
}

func (d *Detector) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next == 0 {
		return time.Second
	}
	return next
}
