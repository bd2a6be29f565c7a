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

// Package codec translates between the LDAP message subset used for
// authentication (bind, search, unbind, StartTLS) and its BER wire
// representation. The message set is a closed tagged variant: decoding an
// application tag outside this subset is a malformed-message error, never a
// silent skip.
package codec

import (
	ber "github.com/go-asn1-ber/asn1-ber"
)

// LDAP application tags as defined in RFC 4511.
const (
	ApplicationBindRequest           ber.Tag = 0
	ApplicationBindResponse          ber.Tag = 1
	ApplicationUnbindRequest         ber.Tag = 2
	ApplicationSearchRequest         ber.Tag = 3
	ApplicationSearchResultEntry     ber.Tag = 4
	ApplicationSearchResultDone      ber.Tag = 5
	ApplicationSearchResultReference ber.Tag = 19
	ApplicationExtendedRequest       ber.Tag = 23
	ApplicationExtendedResponse      ber.Tag = 24
)

// Search scopes as defined in RFC 4511.
const (
	ScopeBaseObject   int64 = 0
	ScopeSingleLevel  int64 = 1
	ScopeWholeSubtree int64 = 2
)

// NeverDerefAliases is the only alias dereferencing policy this client
// uses.
const NeverDerefAliases int64 = 0

// LDAPVersion3 is the protocol version sent in every bind request.
const LDAPVersion3 int64 = 3

// ResultCode is the numeric result of an LDAP operation.
type ResultCode int64

// Result codes interpreted by this client. Anything else maps onto
// OutcomeOther.
const (
	ResultSuccess             ResultCode = 0
	ResultOperationsError     ResultCode = 1
	ResultProtocolError       ResultCode = 2
	ResultNoSuchObject        ResultCode = 32
	ResultInvalidCredentials  ResultCode = 49
	ResultBusy                ResultCode = 51
	ResultUnavailable         ResultCode = 52
	ResultUnwillingToPerform  ResultCode = 53
	ResultServerDown          ResultCode = 81
	ResultConnectErrorProblem ResultCode = 91
)

// Outcome is the closed interpretation of a result code.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomeInvalidCredentials
	OutcomeNoSuchObject
	OutcomeServerUnavailable
	OutcomeProtocolError
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeNoSuchObject:
		return "no_such_object"
	case OutcomeServerUnavailable:
		return "server_unavailable"
	case OutcomeProtocolError:
		return "protocol_error"
	default:
		return "other"
	}
}

// Outcome maps the result code onto the closed outcome set.
func (r ResultCode) Outcome() Outcome {
	switch r {
	case ResultSuccess:
		return OutcomeSuccess
	case ResultInvalidCredentials:
		return OutcomeInvalidCredentials
	case ResultNoSuchObject:
		return OutcomeNoSuchObject
	case ResultBusy, ResultUnavailable, ResultUnwillingToPerform, ResultServerDown, ResultConnectErrorProblem:
		return OutcomeServerUnavailable
	case ResultProtocolError, ResultOperationsError:
		return OutcomeProtocolError
	default:
		return OutcomeOther
	}
}

// Message is one LDAP protocol operation. The interface is sealed so the
// variant set stays closed.
type Message interface {
	// AppTag returns the RFC 4511 application tag of the operation.
	AppTag() ber.Tag

	sealed()
}

// Envelope is the LDAPMessage wrapper: message ID plus protocol operation.
// Response controls are not interpreted and are dropped on decode.
type Envelope struct {
	MessageID int64
	Op        Message
}

// Result carries the common components of BindResponse, SearchResultDone
// and ExtendedResponse.
type Result struct {
	Code       ResultCode
	MatchedDN  string
	Diagnostic string
}

// BindRequest is a simple bind: DN plus password.
type BindRequest struct {
	Version  int64
	DN       string
	Password string
}

func (*BindRequest) AppTag() ber.Tag { return ApplicationBindRequest }
func (*BindRequest) sealed()         {}

// BindResponse reports the outcome of a bind.
type BindResponse struct {
	Result
}

func (*BindResponse) AppTag() ber.Tag { return ApplicationBindResponse }
func (*BindResponse) sealed()         {}

// UnbindRequest terminates the protocol session. It has no response.
type UnbindRequest struct{}

func (*UnbindRequest) AppTag() ber.Tag { return ApplicationUnbindRequest }
func (*UnbindRequest) sealed()         {}

// SearchRequest asks for entries below BaseDN matching Filter. Filter is
// the RFC 4515 string representation and is compiled on encode.
type SearchRequest struct {
	BaseDN     string
	Scope      int64
	SizeLimit  int64
	TimeLimit  int64
	TypesOnly  bool
	Filter     string
	Attributes []string
}

func (*SearchRequest) AppTag() ber.Tag { return ApplicationSearchRequest }
func (*SearchRequest) sealed()         {}

// EntryAttribute is one attribute of a search result entry.
type EntryAttribute struct {
	Name   string
	Values []string
}

// SearchResultEntry is one entry returned by a search.
type SearchResultEntry struct {
	DN         string
	Attributes []EntryAttribute
}

func (*SearchResultEntry) AppTag() ber.Tag { return ApplicationSearchResultEntry }
func (*SearchResultEntry) sealed()         {}

// GetAttributeValues returns the values of the named attribute, or nil.
func (e *SearchResultEntry) GetAttributeValues(name string) []string {
	for index := range e.Attributes {
		if e.Attributes[index].Name == name {
			return e.Attributes[index].Values
		}
	}

	return nil
}

// SearchResultDone terminates a search response.
type SearchResultDone struct {
	Result
}

func (*SearchResultDone) AppTag() ber.Tag { return ApplicationSearchResultDone }
func (*SearchResultDone) sealed()         {}

// SearchResultReference is a continuation reference. This client does not
// chase referrals; the message kind is decoded so it can be skipped
// deliberately rather than breaking the stream.
type SearchResultReference struct {
	URIs []string
}

func (*SearchResultReference) AppTag() ber.Tag { return ApplicationSearchResultReference }
func (*SearchResultReference) sealed()         {}

// ExtendedRequest carries an extended operation such as StartTLS.
type ExtendedRequest struct {
	OID string
}

func (*ExtendedRequest) AppTag() ber.Tag { return ApplicationExtendedRequest }
func (*ExtendedRequest) sealed()         {}

// ExtendedResponse reports the outcome of an extended operation.
type ExtendedResponse struct {
	Result
	OID string
}

func (*ExtendedResponse) AppTag() ber.Tag { return ApplicationExtendedResponse }
func (*ExtendedResponse) sealed()         {}
