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

package codec

import (
	stderrors "errors"
	"testing"

	"github.com/mkapra/ldap-authd/server/errors"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes an operation and decodes it again through the wire
// representation.
func roundTrip(t *testing.T, messageID int64, op Message) *Envelope {
	t.Helper()

	packet, err := Encode(messageID, op)
	require.NoError(t, err)

	reparsed, err := ber.DecodePacketErr(packet.Bytes())
	require.NoError(t, err)

	envelope, err := Decode(reparsed)
	require.NoError(t, err)

	return envelope
}

func TestBindRequestRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 1, &BindRequest{
		Version:  3,
		DN:       "uid=jane,ou=people,dc=example,dc=org",
		Password: "s3cret",
	})

	assert.Equal(t, int64(1), envelope.MessageID)

	request, ok := envelope.Op.(*BindRequest)
	require.True(t, ok)

	assert.Equal(t, int64(3), request.Version)
	assert.Equal(t, "uid=jane,ou=people,dc=example,dc=org", request.DN)
	assert.Equal(t, "s3cret", request.Password)
}

func TestBindRequestDefaultsToVersion3(t *testing.T) {
	envelope := roundTrip(t, 7, &BindRequest{DN: "cn=admin", Password: "x"})

	request := envelope.Op.(*BindRequest)

	assert.Equal(t, int64(3), request.Version)
}

func TestBindResponseRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 2, &BindResponse{Result: Result{
		Code:       ResultInvalidCredentials,
		Diagnostic: "80090308: LdapErr",
	}})

	response, ok := envelope.Op.(*BindResponse)
	require.True(t, ok)

	assert.Equal(t, ResultInvalidCredentials, response.Code)
	assert.Equal(t, "80090308: LdapErr", response.Diagnostic)
}

func TestSearchRequestRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 3, &SearchRequest{
		BaseDN:     "dc=example,dc=org",
		Scope:      ScopeWholeSubtree,
		SizeLimit:  1,
		TimeLimit:  30,
		Filter:     "(&(objectClass=person)(uid=jane))",
		Attributes: []string{"1.1"},
	})

	request, ok := envelope.Op.(*SearchRequest)
	require.True(t, ok)

	assert.Equal(t, "dc=example,dc=org", request.BaseDN)
	assert.Equal(t, ScopeWholeSubtree, request.Scope)
	assert.Equal(t, int64(1), request.SizeLimit)
	assert.Equal(t, "(&(objectClass=person)(uid=jane))", request.Filter)
	assert.Equal(t, []string{"1.1"}, request.Attributes)
}

func TestSearchRequestRejectsBrokenFilter(t *testing.T) {
	_, err := Encode(4, &SearchRequest{
		BaseDN: "dc=example,dc=org",
		Scope:  ScopeWholeSubtree,
		Filter: "(&(objectClass=person)",
	})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedMessage))
}

func TestSearchResultEntryRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 5, &SearchResultEntry{
		DN: "uid=jane,ou=people,dc=example,dc=org",
		Attributes: []EntryAttribute{
			{Name: "uid", Values: []string{"jane"}},
			{Name: "memberOf", Values: []string{"cn=dev", "cn=ops"}},
		},
	})

	entry, ok := envelope.Op.(*SearchResultEntry)
	require.True(t, ok)

	assert.Equal(t, "uid=jane,ou=people,dc=example,dc=org", entry.DN)
	assert.Equal(t, []string{"jane"}, entry.GetAttributeValues("uid"))
	assert.Equal(t, []string{"cn=dev", "cn=ops"}, entry.GetAttributeValues("memberOf"))
	assert.Empty(t, entry.GetAttributeValues("mail"))
}

func TestSearchResultDoneRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 6, &SearchResultDone{Result: Result{Code: ResultNoSuchObject, MatchedDN: "dc=example,dc=org"}})

	done, ok := envelope.Op.(*SearchResultDone)
	require.True(t, ok)

	assert.Equal(t, ResultNoSuchObject, done.Code)
	assert.Equal(t, "dc=example,dc=org", done.MatchedDN)
}

func TestSearchResultReferenceRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 8, &SearchResultReference{URIs: []string{"ldap://other.example.org/dc=example,dc=org"}})

	reference, ok := envelope.Op.(*SearchResultReference)
	require.True(t, ok)

	assert.Equal(t, []string{"ldap://other.example.org/dc=example,dc=org"}, reference.URIs)
}

func TestExtendedRequestRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 9, &ExtendedRequest{OID: "1.3.6.1.4.1.1466.20037"})

	request, ok := envelope.Op.(*ExtendedRequest)
	require.True(t, ok)

	assert.Equal(t, "1.3.6.1.4.1.1466.20037", request.OID)
}

func TestExtendedResponseRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 10, &ExtendedResponse{
		Result: Result{Code: ResultSuccess},
		OID:    "1.3.6.1.4.1.1466.20037",
	})

	response, ok := envelope.Op.(*ExtendedResponse)
	require.True(t, ok)

	assert.Equal(t, ResultSuccess, response.Code)
	assert.Equal(t, "1.3.6.1.4.1.1466.20037", response.OID)
}

func TestUnbindRequestRoundTrip(t *testing.T) {
	envelope := roundTrip(t, 11, &UnbindRequest{})

	_, ok := envelope.Op.(*UnbindRequest)
	assert.True(t, ok)
}

func TestDecodeRejectsNonSequenceEnvelope(t *testing.T) {
	packet := ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "junk", "")

	_, err := Decode(packet)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedMessage))
}

func TestDecodeRejectsMissingOperation(t *testing.T) {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 1, "MessageID"))

	_, err := Decode(packet)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedMessage))
}

func TestDecodeRejectsUnknownApplicationTag(t *testing.T) {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 1, "MessageID"))
	packet.AppendChild(ber.Encode(ber.ClassApplication, ber.TypeConstructed, ber.Tag(14), nil, "unknown"))

	_, err := Decode(packet)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrMalformedMessage))
}

func TestDecodeRejectsUnsupportedAuthChoice(t *testing.T) {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAPMessage")
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(1), "MessageID"))

	bind := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationBindRequest, nil, "BindRequest")
	bind.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(3), "Version"))
	bind.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "cn=admin", "Name"))
	// SASL authentication uses context tag 3 instead of 0.
	bind.AppendChild(ber.Encode(ber.ClassContext, ber.TypeConstructed, ber.Tag(3), nil, "SASL"))

	packet.AppendChild(bind)

	_, err := Decode(packet)

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrProtocol))
}

func TestResultCodeOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, ResultSuccess.Outcome())
	assert.Equal(t, OutcomeInvalidCredentials, ResultInvalidCredentials.Outcome())
	assert.Equal(t, OutcomeNoSuchObject, ResultNoSuchObject.Outcome())
	assert.Equal(t, OutcomeServerUnavailable, ResultBusy.Outcome())
	assert.Equal(t, OutcomeServerUnavailable, ResultUnavailable.Outcome())
	assert.Equal(t, OutcomeServerUnavailable, ResultServerDown.Outcome())
	assert.Equal(t, OutcomeServerUnavailable, ResultUnwillingToPerform.Outcome())
	assert.Equal(t, OutcomeProtocolError, ResultProtocolError.Outcome())
	assert.Equal(t, OutcomeOther, ResultCode(50).Outcome())
}
