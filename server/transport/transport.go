// Copyright (C) 2024 The ldap-authd authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package transport owns a single TCP or TLS connection to one directory
// server. It speaks codec messages synchronously: the pool guarantees that
// a connection is leased to at most one operation at a time, so there is no
// multiplexing of outstanding requests.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mkapra/ldap-authd/server/codec"
	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/errors"

	ber "github.com/go-asn1-ber/asn1-ber"
)

func init() {
	// Cap the size of any single message accepted from the directory.
	// Oversized messages fail the read instead of exhausting memory.
	ber.MaxPacketLengthBytes = definitions.MaxMessageSize
}

// Conn is one live connection to a directory server.
type Conn struct {
	mu        sync.Mutex
	conn      net.Conn
	uri       string
	conf      *config.LDAPConf
	messageID int64
	tlsActive bool
	state     definitions.ConnState
	closed    bool
}

// Connect establishes a connection to the first reachable server URI of the
// endpoint. TLS is negotiated according to the URI scheme (ldaps) or the
// StartTLS setting before the connection is handed to callers, so no bind
// ever travels in plaintext on a TLS-enabled endpoint.
func Connect(ctx context.Context, conf *config.LDAPConf) (*Conn, error) {
	var lastErr error

	for _, serverURI := range conf.ServerURIs {
		conn, err := connectURI(ctx, conf, serverURI)
		if err != nil {
			lastErr = err

			continue
		}

		return conn, nil
	}

	return nil, errors.NewDetailedError(errors.ErrLDAPConnect).
		WithDetail(fmt.Sprintf("could not connect to any of the LDAP servers %v: %v", conf.ServerURIs, lastErr))
}

func connectURI(ctx context.Context, conf *config.LDAPConf, serverURI string) (*Conn, error) {
	u, err := url.Parse(serverURI)
	if err != nil {
		return nil, fmt.Errorf("invalid server URI %q: %w", serverURI, err)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
		port = ""
	}

	var tlsConfig *tls.Config

	mode := definitions.TLSModeNone

	switch {
	case u.Scheme == "ldaps":
		mode = definitions.TLSModeImplicit

		if port == "" {
			port = "636"
		}
	case u.Scheme == "ldap":
		if conf.StartTLS {
			mode = definitions.TLSModeStartTLS
		}

		if port == "" {
			port = "389"
		}
	default:
		return nil, fmt.Errorf("unknown scheme %q", u.Scheme)
	}

	if mode != definitions.TLSModeNone {
		tlsConfig, err = buildTLSConfig(conf, host)
		if err != nil {
			return nil, err
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, conf.GetConnectTimeout())

	defer cancel()

	dialer := &net.Dialer{}

	netConn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}

	conn := &Conn{conn: netConn, uri: serverURI, conf: conf}

	switch mode {
	case definitions.TLSModeImplicit:
		if err := conn.handshake(dialCtx, tlsConfig); err != nil {
			netConn.Close()

			return nil, err
		}
	case definitions.TLSModeStartTLS:
		if err := conn.startTLS(dialCtx, tlsConfig); err != nil {
			netConn.Close()

			return nil, err
		}
	}

	return conn, nil
}

// buildTLSConfig loads the CA chain and creates a TLS configuration for the
// endpoint.
func buildTLSConfig(conf *config.LDAPConf, host string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: conf.TLSSkipVerify,
		ServerName:         host,
	}

	if conf.TLSCAFile != "" {
		caCert, err := os.ReadFile(conf.TLSCAFile)
		if err != nil {
			return nil, err
		}

		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM(caCert)

		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

func (c *Conn) handshake(ctx context.Context, tlsConfig *tls.Config) error {
	tlsConn := tls.Client(c.conn, tlsConfig)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}

	c.conn = tlsConn
	c.tlsActive = true

	return nil
}

// startTLS performs the StartTLS extended exchange followed by the TLS
// handshake. RFC 4511 requires no outstanding operations when the exchange
// starts; this holds trivially because the connection is not yet shared.
func (c *Conn) startTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if err := c.Send(ctx, &codec.ExtendedRequest{OID: definitions.StartTLSOID}); err != nil {
		return err
	}

	envelope, err := c.receiveForID(ctx, c.messageID)
	if err != nil {
		return err
	}

	response, ok := envelope.Op.(*codec.ExtendedResponse)
	if !ok {
		return errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("expected extended response to StartTLS, got %T", envelope.Op))
	}

	if response.Code != codec.ResultSuccess {
		return errors.NewDetailedError(errors.ErrLDAPConnect).
			WithDetail(fmt.Sprintf("StartTLS rejected with result code %d: %s", response.Code, response.Diagnostic))
	}

	return c.handshake(ctx, tlsConfig)
}

// URI returns the server URI this connection is established to.
func (c *Conn) URI() string {
	return c.uri
}

// TLSActive reports whether the connection is TLS protected.
func (c *Conn) TLSActive() bool {
	return c.tlsActive
}

// State reports the lifecycle state of the connection.
func (c *Conn) State() definitions.ConnState {
	c.mu.Lock()

	defer c.mu.Unlock()

	return c.state
}

// IsDead reports whether the connection experienced an I/O or protocol
// failure and must be discarded.
func (c *Conn) IsDead() bool {
	return c.State() == definitions.ConnStateDead
}

// MarkDead flags the connection as unusable. Once dead a connection is
// never written to again except for the final socket close, and the pool
// will discard it on release.
func (c *Conn) MarkDead() {
	c.mu.Lock()
	c.state = definitions.ConnStateDead
	c.mu.Unlock()
}

// MarkSuspect flags a connection that sat idle past the validation
// threshold; the pool probes suspect connections before handing them out.
// A dead connection stays dead.
func (c *Conn) MarkSuspect() {
	c.mu.Lock()

	if c.state == definitions.ConnStateHealthy {
		c.state = definitions.ConnStateSuspect
	}

	c.mu.Unlock()
}

// MarkHealthy clears the suspect flag after a successful probe.
func (c *Conn) MarkHealthy() {
	c.mu.Lock()

	if c.state == definitions.ConnStateSuspect {
		c.state = definitions.ConnStateHealthy
	}

	c.mu.Unlock()
}

// deadline derives the I/O deadline from the context, capped by the
// endpoint request timeout so an undeadlined context can never block a
// network call indefinitely.
func (c *Conn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.conf.GetRequestTimeout())

	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	return deadline
}

// Send encodes the operation into an envelope with the next message ID and
// writes it with a deadline. Any write failure marks the connection dead.
func (c *Conn) Send(ctx context.Context, op codec.Message) error {
	if c.IsDead() {
		return errors.NewDetailedError(errors.ErrConnectionDead).WithDetail("send on dead connection")
	}

	c.messageID++

	packet, err := codec.Encode(c.messageID, op)
	if err != nil {
		return err
	}

	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		c.MarkDead()

		return err
	}

	if _, err := c.conn.Write(packet.Bytes()); err != nil {
		c.MarkDead()

		return wrapNetError(err, "unable to send LDAP request")
	}

	return nil
}

// Receive reads and decodes one envelope with a deadline. A timeout or
// decode failure leaves the stream in an unknown position, so the
// connection is marked dead and must not be reused.
func (c *Conn) Receive(ctx context.Context) (*codec.Envelope, error) {
	if c.IsDead() {
		return nil, errors.NewDetailedError(errors.ErrConnectionDead).WithDetail("receive on dead connection")
	}

	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		c.MarkDead()

		return nil, err
	}

	packet, err := ber.ReadPacket(c.conn)
	if err != nil {
		c.MarkDead()

		// The ber reader rejects packets whose declared length exceeds
		// MaxPacketLengthBytes before the body is read.
		if strings.Contains(err.Error(), "greater than maximum") {
			return nil, errors.NewDetailedError(errors.ErrMessageTooLarge).
				WithDetail(fmt.Sprintf("unable to read LDAP response: %v", err))
		}

		return nil, wrapNetError(err, "unable to read LDAP response")
	}

	envelope, err := codec.Decode(packet)
	if err != nil {
		c.MarkDead()

		return nil, err
	}

	return envelope, nil
}

// receiveForID reads envelopes until one carries the expected message ID.
// Stray responses for other IDs indicate a desynchronized stream and kill
// the connection.
func (c *Conn) receiveForID(ctx context.Context, messageID int64) (*codec.Envelope, error) {
	envelope, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}

	if envelope.MessageID != messageID {
		c.MarkDead()

		return nil, errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("response message ID %d does not match request %d", envelope.MessageID, messageID))
	}

	return envelope, nil
}

// SimpleBind performs a simple bind and returns the directory's response.
// A non-success result code is not an error at this layer; interpretation
// is the dispatcher's concern.
func (c *Conn) SimpleBind(ctx context.Context, bindDN, password string) (*codec.BindResponse, error) {
	if err := c.Send(ctx, &codec.BindRequest{Version: codec.LDAPVersion3, DN: bindDN, Password: password}); err != nil {
		return nil, err
	}

	envelope, err := c.receiveForID(ctx, c.messageID)
	if err != nil {
		return nil, err
	}

	response, ok := envelope.Op.(*codec.BindResponse)
	if !ok {
		c.MarkDead()

		return nil, errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("expected bind response, got %T", envelope.Op))
	}

	return response, nil
}

// Search sends the request and collects entries until SearchResultDone.
// Continuation references are skipped; this client does not chase
// referrals.
func (c *Conn) Search(ctx context.Context, request *codec.SearchRequest) ([]*codec.SearchResultEntry, *codec.SearchResultDone, error) {
	if err := c.Send(ctx, request); err != nil {
		return nil, nil, err
	}

	requestID := c.messageID

	var entries []*codec.SearchResultEntry

	for {
		envelope, err := c.receiveForID(ctx, requestID)
		if err != nil {
			return nil, nil, err
		}

		switch op := envelope.Op.(type) {
		case *codec.SearchResultEntry:
			entries = append(entries, op)
		case *codec.SearchResultReference:
			continue
		case *codec.SearchResultDone:
			return entries, op, nil
		default:
			c.MarkDead()

			return nil, nil, errors.NewDetailedError(errors.ErrProtocol).
				WithDetail(fmt.Sprintf("unexpected message %T during search", envelope.Op))
		}
	}
}

// Ping validates the connection with the cheapest legal operation: a
// base-scope search against the root DSE asking for no attributes.
func (c *Conn) Ping(ctx context.Context) error {
	_, _, err := c.Search(ctx, &codec.SearchRequest{
		BaseDN:     "",
		Scope:      codec.ScopeBaseObject,
		SizeLimit:  1,
		Filter:     "(objectClass=*)",
		Attributes: []string{"1.1"},
	})

	return err
}

// Close performs a best-effort unbind and closes the socket. It is
// idempotent and never sends the unbind on a dead connection.
func (c *Conn) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	dead := c.state == definitions.ConnStateDead
	c.mu.Unlock()

	if !dead {
		c.messageID++

		if packet, err := codec.Encode(c.messageID, &codec.UnbindRequest{}); err == nil {
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = c.conn.Write(packet.Bytes())
		}
	}

	return c.conn.Close()
}

// wrapNetError maps network failures onto the error taxonomy, keeping the
// original error in the detail.
func wrapNetError(err error, what string) error {
	var netErr net.Error

	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewDetailedError(errors.ErrTimeout).WithDetail(fmt.Sprintf("%s: %v", what, err))
	}

	return errors.NewDetailedError(errors.ErrConnectionDead).WithDetail(fmt.Sprintf("%s: %v", what, err))
}

// IsTransientNetworkError reports whether an error looks like a transient
// network condition worth one reconnect attempt.
func IsTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error

	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no route")
}
