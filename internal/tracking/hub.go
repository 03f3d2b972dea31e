// README: Tracking hub fanning taxi state out to the connections monitoring each taxi.
package tracking

import (
	"errors"
	"log/slog"
	"sync"

	"sharetaxi/internal/events"
	"sharetaxi/internal/types"
)

var (
	ErrUnknownClient  = errors.New("unknown connection")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one gateway connection. Send is drained by the connection's write loop
// and closed by the hub when the client unregisters.
type Client struct {
	ID          string
	PassengerID types.ID
	Send        chan []byte

	mu      sync.Mutex
	closed  bool
	monitor types.ID
}

func NewClient(id string, passengerID types.ID, bufferSize int) *Client {
	return &Client{
		ID:          id,
		PassengerID: passengerID,
		Send:        make(chan []byte, bufferSize),
	}
}

// Monitoring returns the taxi this connection follows, if any.
func (c *Client) Monitoring() (types.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor, c.monitor != ""
}

func (c *Client) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrUnknownClient
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client
	taxiClients map[types.ID]map[*Client]struct{}
	passengers  map[types.ID]map[*Client]struct{}

	vmu      sync.Mutex
	versions map[types.ID]int64

	logger *slog.Logger
}

var _ events.Handler = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		taxiClients: make(map[types.ID]map[*Client]struct{}),
		passengers:  make(map[types.ID]map[*Client]struct{}),
		versions:    make(map[types.ID]int64),
		logger:      logger.With("component", "tracking"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	if c.PassengerID != "" {
		addTo(h.passengers, c.PassengerID, c)
	}
	h.logger.Debug("client registered", "client_id", c.ID, "total", len(h.clients))
}

// Unregister drops the connection and all its subscriptions, then closes Send.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	if c.PassengerID != "" {
		removeFrom(h.passengers, c.PassengerID, c)
	}
	h.detach(c)
	total := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("client unregistered", "client_id", c.ID, "total", total)
}

// Subscribe moves the connection to monitoring taxiID, replacing any earlier subscription.
func (h *Hub) Subscribe(connID string, taxiID types.ID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return ErrUnknownClient
	}
	h.attach(c, taxiID)
	return nil
}

func (h *Hub) Unsubscribe(connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return ErrUnknownClient
	}
	h.detach(c)
	return nil
}

// Send writes one message to a single connection without blocking.
func (h *Hub) Send(connID string, msg Message) error {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return c.trySend(data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Watchers returns how many connections follow taxiID.
func (h *Hub) Watchers(taxiID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.taxiClients[taxiID])
}

func (h *Hub) HandleTaxiStateChanged(ev events.TaxiStateChanged) {
	if !h.advance(ev.TaxiID, ev.Version) {
		h.logger.Debug("drop stale taxi state", "taxi_id", ev.TaxiID, "version", ev.Version)
		return
	}
	targets := h.snapshot(h.taxiClients, ev.TaxiID)
	if len(targets) == 0 {
		return
	}
	data, err := encode(Message{Type: TypeTaxiState, Payload: ev})
	if err != nil {
		h.logger.Error("encode taxi state", "taxi_id", ev.TaxiID, "error", err)
		return
	}
	for _, c := range targets {
		h.deliver(c, data)
	}
}

// HandleRequestAccepted moves every connection of the passenger onto the taxi,
// then sends request_accepted followed by a snapshot of the taxi unless a newer
// state has already gone out.
func (h *Hub) HandleRequestAccepted(ev events.RequestAccepted) {
	h.mu.Lock()
	var targets []*Client
	for c := range h.passengers[ev.PassengerID] {
		h.attach(c, ev.TaxiID)
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	data, err := encode(Message{Type: TypeRequestAccepted, Payload: ev})
	if err != nil {
		h.logger.Error("encode request accepted", "request_id", ev.RequestID, "error", err)
		return
	}
	var snap []byte
	if ev.Taxi != nil && h.advance(ev.TaxiID, ev.Taxi.Version) {
		if snap, err = encode(Message{Type: TypeSnapshot, Payload: ev.Taxi}); err != nil {
			h.logger.Error("encode taxi snapshot", "taxi_id", ev.TaxiID, "error", err)
		}
	}
	for _, c := range targets {
		h.deliver(c, data)
		if snap != nil {
			h.deliver(c, snap)
		}
	}
}

// HandleRequestClosed tells the passenger and stops their monitoring of the taxi
// that served the request.
func (h *Hub) HandleRequestClosed(ev events.RequestClosed) {
	h.mu.Lock()
	var targets []*Client
	for c := range h.passengers[ev.PassengerID] {
		if ev.TaxiID != "" {
			if id, ok := c.Monitoring(); ok && id == ev.TaxiID {
				h.detach(c)
			}
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	data, err := encode(Message{Type: TypeRequestClosed, Payload: ev})
	if err != nil {
		h.logger.Error("encode request closed", "request_id", ev.RequestID, "error", err)
		return
	}
	for _, c := range targets {
		h.deliver(c, data)
	}
}

// Close unregisters every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.taxiClients = make(map[types.ID]map[*Client]struct{})
	h.passengers = make(map[types.ID]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	switch err := c.trySend(data); {
	case errors.Is(err, ErrSendBufferFull):
		h.logger.Debug("client send buffer full", "client_id", c.ID)
	case errors.Is(err, ErrUnknownClient):
		h.logger.Debug("client gone before delivery", "client_id", c.ID)
	}
}

// advance records version for taxiID and reports whether it is not older than the last one seen.
func (h *Hub) advance(taxiID types.ID, version int64) bool {
	h.vmu.Lock()
	defer h.vmu.Unlock()
	if last, ok := h.versions[taxiID]; ok && version < last {
		return false
	}
	h.versions[taxiID] = version
	return true
}

func (h *Hub) snapshot(index map[types.ID]map[*Client]struct{}, key types.ID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := index[key]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// attach and detach require h.mu held for writing.
func (h *Hub) attach(c *Client, taxiID types.ID) {
	h.detach(c)
	addTo(h.taxiClients, taxiID, c)
	c.mu.Lock()
	c.monitor = taxiID
	c.mu.Unlock()
}

func (h *Hub) detach(c *Client) {
	c.mu.Lock()
	prev := c.monitor
	c.monitor = ""
	c.mu.Unlock()
	if prev != "" {
		removeFrom(h.taxiClients, prev, c)
	}
}

func addTo(index map[types.ID]map[*Client]struct{}, key types.ID, c *Client) {
	if index[key] == nil {
		index[key] = make(map[*Client]struct{})
	}
	index[key][c] = struct{}{}
}

func removeFrom(index map[types.ID]map[*Client]struct{}, key types.ID, c *Client) {
	if set := index[key]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}
