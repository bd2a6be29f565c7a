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

package transport

import (
	"context"
	stderrors "errors"
	"net"
	"testing"
	"time"

	"github.com/mkapra/ldap-authd/server/codec"
	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/errors"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory is a minimal LDAP server good enough to exercise the
// transport. Behavior is driven by the handle callback.
type fakeDirectory struct {
	listener net.Listener
	handle   func(conn net.Conn, envelope *codec.Envelope) bool
}

func newFakeDirectory(t *testing.T, handle func(conn net.Conn, envelope *codec.Envelope) bool) *fakeDirectory {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	directory := &fakeDirectory{listener: listener, handle: handle}

	go directory.serve()

	t.Cleanup(func() { listener.Close() })

	return directory
}

func (f *fakeDirectory) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}

		go func(conn net.Conn) {
			defer conn.Close()

			for {
				packet, err := ber.ReadPacket(conn)
				if err != nil {
					return
				}

				envelope, err := codec.Decode(packet)
				if err != nil {
					return
				}

				if _, ok := envelope.Op.(*codec.UnbindRequest); ok {
					return
				}

				if !f.handle(conn, envelope) {
					return
				}
			}
		}(conn)
	}
}

func (f *fakeDirectory) uri() string {
	return "ldap://" + f.listener.Addr().String()
}

// reply encodes and writes a response for the given message ID.
func reply(conn net.Conn, messageID int64, op codec.Message) bool {
	packet, err := codec.Encode(messageID, op)
	if err != nil {
		return false
	}

	_, err = conn.Write(packet.Bytes())

	return err == nil
}

func testConf(uri string) *config.LDAPConf {
	return &config.LDAPConf{
		ServerURIs:     []string{uri},
		BaseDN:         "dc=example,dc=org",
		BindTemplate:   "uid=%s,ou=people,dc=example,dc=org",
		RequestTimeout: 2 * time.Second,
		ConnectTimeout: 2 * time.Second,
	}
}

func TestSimpleBindSuccessAndFailure(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		bind, ok := envelope.Op.(*codec.BindRequest)
		if !ok {
			return false
		}

		code := codec.ResultSuccess
		if bind.Password != "good" {
			code = codec.ResultInvalidCredentials
		}

		return reply(conn, envelope.MessageID, &codec.BindResponse{Result: codec.Result{Code: code}})
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	defer conn.Close()

	response, err := conn.SimpleBind(context.Background(), "uid=jane,ou=people,dc=example,dc=org", "good")
	require.NoError(t, err)
	assert.Equal(t, codec.ResultSuccess, response.Code)

	response, err = conn.SimpleBind(context.Background(), "uid=jane,ou=people,dc=example,dc=org", "bad")
	require.NoError(t, err)
	assert.Equal(t, codec.ResultInvalidCredentials, response.Code)

	assert.False(t, conn.IsDead())
}

func TestSearchCollectsEntriesAndSkipsReferences(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		if _, ok := envelope.Op.(*codec.SearchRequest); !ok {
			return false
		}

		if !reply(conn, envelope.MessageID, &codec.SearchResultEntry{DN: "uid=jane,ou=people,dc=example,dc=org"}) {
			return false
		}

		if !reply(conn, envelope.MessageID, &codec.SearchResultReference{URIs: []string{"ldap://other.example.org/"}}) {
			return false
		}

		return reply(conn, envelope.MessageID, &codec.SearchResultDone{Result: codec.Result{Code: codec.ResultSuccess}})
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	defer conn.Close()

	entries, done, err := conn.Search(context.Background(), &codec.SearchRequest{
		BaseDN: "dc=example,dc=org",
		Scope:  codec.ScopeWholeSubtree,
		Filter: "(uid=jane)",
	})

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "uid=jane,ou=people,dc=example,dc=org", entries[0].DN)
	assert.Equal(t, codec.ResultSuccess, done.Code)
}

func TestPingUsesRootDSEProbe(t *testing.T) {
	var seen *codec.SearchRequest

	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		request, ok := envelope.Op.(*codec.SearchRequest)
		if !ok {
			return false
		}

		seen = request

		return reply(conn, envelope.MessageID, &codec.SearchResultDone{Result: codec.Result{Code: codec.ResultSuccess}})
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	defer conn.Close()

	require.NoError(t, conn.Ping(context.Background()))

	require.NotNil(t, seen)
	assert.Equal(t, "", seen.BaseDN)
	assert.Equal(t, codec.ScopeBaseObject, seen.Scope)
	assert.Equal(t, "(objectClass=*)", seen.Filter)
	assert.Equal(t, []string{"1.1"}, seen.Attributes)
}

func TestMismatchedMessageIDKillsConnection(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		return reply(conn, envelope.MessageID+41, &codec.BindResponse{Result: codec.Result{Code: codec.ResultSuccess}})
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	defer conn.Close()

	_, err = conn.SimpleBind(context.Background(), "uid=jane", "pw")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrProtocol))
	assert.True(t, conn.IsDead())
}

func TestReceiveTimeoutKillsConnection(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		// Swallow the request without answering.
		return true
	})

	conf := testConf(directory.uri())
	conf.RequestTimeout = 150 * time.Millisecond

	conn, err := Connect(context.Background(), conf)
	require.NoError(t, err)

	defer conn.Close()

	_, err = conn.SimpleBind(context.Background(), "uid=jane", "pw")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.True(t, conn.IsDead())

	// Every later use fails fast without touching the socket.
	err = conn.Send(context.Background(), &codec.BindRequest{DN: "uid=jane", Password: "pw"})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConnectionDead))
}

func TestConnectFailsOverToNextURI(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		return reply(conn, envelope.MessageID, &codec.SearchResultDone{Result: codec.Result{Code: codec.ResultSuccess}})
	})

	conf := testConf(directory.uri())
	conf.ServerURIs = []string{"ldap://127.0.0.1:1", directory.uri()}

	conn, err := Connect(context.Background(), conf)
	require.NoError(t, err)

	defer conn.Close()

	assert.Equal(t, directory.uri(), conn.URI())
}

func TestConnectReportsUnreachableEndpoint(t *testing.T) {
	conf := testConf("ldap://127.0.0.1:1")
	conf.ConnectTimeout = 500 * time.Millisecond

	_, err := Connect(context.Background(), conf)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrLDAPConnect))
}

func TestCloseIsIdempotent(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		return true
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
}

func TestOversizedResponseIsRejectedDistinctly(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		// Sequence header declaring a 2 MiB body, twice the accepted
		// maximum. No body follows; the reader rejects the length alone.
		_, err := conn.Write([]byte{0x30, 0x84, 0x00, 0x20, 0x00, 0x00})

		return err == nil
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	defer conn.Close()

	_, err = conn.SimpleBind(context.Background(), "uid=jane,ou=people,dc=example,dc=org", "pw")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMessageTooLarge))
	assert.False(t, stderrors.Is(err, errors.ErrConnectionDead))
	assert.True(t, conn.IsDead())
}

func TestConnectionStateTransitions(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		return true
	})

	conn, err := Connect(context.Background(), testConf(directory.uri()))
	require.NoError(t, err)

	defer conn.Close()

	assert.Equal(t, definitions.ConnStateHealthy, conn.State())

	conn.MarkSuspect()
	assert.Equal(t, definitions.ConnStateSuspect, conn.State())
	assert.False(t, conn.IsDead())

	conn.MarkHealthy()
	assert.Equal(t, definitions.ConnStateHealthy, conn.State())

	conn.MarkDead()
	assert.Equal(t, definitions.ConnStateDead, conn.State())
	assert.Equal(t, "dead", conn.State().String())

	// A dead connection never recovers.
	conn.MarkSuspect()
	conn.MarkHealthy()
	assert.True(t, conn.IsDead())
}

func TestStartTLSRejectsMismatchedMessageID(t *testing.T) {
	directory := newFakeDirectory(t, func(conn net.Conn, envelope *codec.Envelope) bool {
		if _, ok := envelope.Op.(*codec.ExtendedRequest); !ok {
			return false
		}

		return reply(conn, envelope.MessageID+7, &codec.ExtendedResponse{Result: codec.Result{Code: codec.ResultSuccess}})
	})

	conf := testConf(directory.uri())
	conf.StartTLS = true
	conf.TLSSkipVerify = true

	_, err := Connect(context.Background(), conf)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrLDAPConnect))
	assert.Contains(t, err.Error(), "does not match")
}
