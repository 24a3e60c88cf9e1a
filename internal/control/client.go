package control

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

var callCounter uint64

func nextID() string {
	return strconv.FormatUint(atomic.AddUint64(&callCounter, 1), 10) + "." + strconv.Itoa(os.Getpid())
}

// Client is a single connection to a running supervisor's control socket,
// used by systemgctl (spec.md §6).
type Client struct {
	conn net.Conn
}

// Dial opens a connection to socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(w wireRequest) (Reply, error) {
	w.ID = nextID()
	b, err := json.Marshal(w)
	if err != nil {
		return Reply{}, fmt.Errorf("control: marshal request: %w", err)
	}
	if err := writeFrame(c.conn, b); err != nil {
		return Reply{}, err
	}
	frame, err := readFrame(c.conn)
	if err != nil {
		return Reply{}, fmt.Errorf("control: read reply: %w", err)
	}
	var reply Reply
	if err := json.Unmarshal(frame, &reply); err != nil {
		return Reply{}, fmt.Errorf("control: decode reply: %w", err)
	}
	return reply, nil
}

// Status requests the status of services (or every service when names is
// empty or all is true).
func (c *Client) Status(names []string, all bool) (Reply, error) {
	return c.call(wireRequest{Kind: "status", Services: names, All: all})
}

// Start requests services transition out of Stopped/Failed into Pending.
func (c *Client) Start(names []string) (Reply, error) {
	return c.call(wireRequest{Kind: "start", Services: names})
}

// Stop requests services terminate, gracefully (SIGTERM then grace-bounded
// SIGKILL) unless graceful is false.
func (c *Client) Stop(names []string, graceful bool) (Reply, error) {
	return c.call(wireRequest{Kind: "stop", Services: names, Graceful: graceful})
}

// Restart requests services restart, taking the rolling path when the
// service's deployment strategy calls for it or forceRolling is set.
func (c *Client) Restart(names []string, forceRolling bool) (Reply, error) {
	return c.call(wireRequest{Kind: "restart", Services: names, ForceRolling: forceRolling})
}

// Logs requests the on-disk path of a service's stdout/stderr/supervisor
// log (kind is "stdout", "stderr", or "supervisor").
func (c *Client) Logs(service, kind string, lines int) (Reply, error) {
	return c.call(wireRequest{Kind: "logs", Services: []string{service}, LogKind: kind, LogLines: lines})
}

// Inspect requests a service's status, cron run history, and latest
// resource sample.
func (c *Client) Inspect(service string, window time.Duration) (Reply, error) {
	return c.call(wireRequest{Kind: "inspect", Services: []string{service}, Window: window})
}

// Spawn requests a one-off, unsupervised child process with an optional
// TTL after which it is killed.
func (c *Client) Spawn(name string, argv []string, ttl time.Duration) (Reply, error) {
	return c.call(wireRequest{Kind: "spawn", SpawnName: name, SpawnArgv: argv, SpawnTTL: ttl})
}

// Purge clears terminal-state records for services (or every service).
func (c *Client) Purge(names []string, all bool) (Reply, error) {
	return c.call(wireRequest{Kind: "purge", Services: names, All: all})
}

// Reload requests the running supervisor re-read and apply configPath (or
// its last-known config path, if configPath is empty).
func (c *Client) Reload(configPath string) (Reply, error) {
	return c.call(wireRequest{Kind: "reload", ConfigPath: configPath})
}
