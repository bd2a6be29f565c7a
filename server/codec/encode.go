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
	"fmt"

	"github.com/mkapra/ldap-authd/server/errors"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// Encode wraps the protocol operation into an LDAPMessage envelope and
// returns the BER packet ready for the wire.
func Encode(messageID int64, op Message) (*ber.Packet, error) {
	opPacket, err := encodeOp(op)
	if err != nil {
		return nil, err
	}

	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Message")
	packet.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, messageID, "Message ID"))
	packet.AppendChild(opPacket)

	return packet, nil
}

func encodeOp(op Message) (*ber.Packet, error) {
	switch m := op.(type) {
	case *BindRequest:
		return encodeBindRequest(m), nil
	case *BindResponse:
		return encodeResult(ApplicationBindResponse, "Bind Response", &m.Result), nil
	case *UnbindRequest:
		return ber.Encode(ber.ClassApplication, ber.TypePrimitive, ApplicationUnbindRequest, nil, "Unbind Request"), nil
	case *SearchRequest:
		return encodeSearchRequest(m)
	case *SearchResultEntry:
		return encodeSearchResultEntry(m), nil
	case *SearchResultDone:
		return encodeResult(ApplicationSearchResultDone, "Search Result Done", &m.Result), nil
	case *SearchResultReference:
		return encodeSearchResultReference(m), nil
	case *ExtendedRequest:
		return encodeExtendedRequest(m), nil
	case *ExtendedResponse:
		return encodeExtendedResponse(m), nil
	default:
		return nil, errors.NewDetailedError(errors.ErrInternal).
			WithDetail(fmt.Sprintf("cannot encode message type %T", op))
	}
}

func encodeBindRequest(m *BindRequest) *ber.Packet {
	version := m.Version
	if version == 0 {
		version = LDAPVersion3
	}

	request := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationBindRequest, nil, "Bind Request")
	request.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, version, "Version"))
	request.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, m.DN, "User Name"))
	request.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, m.Password, "Password"))

	return request
}

func encodeSearchRequest(m *SearchRequest) (*ber.Packet, error) {
	// The RFC 4515 filter string is compiled into its BER form by the
	// go-ldap filter compiler.
	filterPacket, err := ldap.CompileFilter(m.Filter)
	if err != nil {
		return nil, errors.NewDetailedError(errors.ErrMalformedMessage).
			WithDetail(fmt.Sprintf("invalid search filter %q: %v", m.Filter, err))
	}

	request := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationSearchRequest, nil, "Search Request")
	request.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, m.BaseDN, "Base DN"))
	request.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, m.Scope, "Scope"))
	request.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, NeverDerefAliases, "Deref Aliases"))
	request.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, m.SizeLimit, "Size Limit"))
	request.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, m.TimeLimit, "Time Limit"))
	request.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, m.TypesOnly, "Types Only"))
	request.AppendChild(filterPacket)

	attributes := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	for _, attribute := range m.Attributes {
		attributes.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attribute, "Attribute"))
	}

	request.AppendChild(attributes)

	return request, nil
}

func encodeSearchResultEntry(m *SearchResultEntry) *ber.Packet {
	entry := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationSearchResultEntry, nil, "Search Result Entry")
	entry.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, m.DN, "Object Name"))

	attributes := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")

	for index := range m.Attributes {
		attribute := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attribute")
		attribute.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, m.Attributes[index].Name, "Type"))

		values := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "Values")
		for _, value := range m.Attributes[index].Values {
			values.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
		}

		attribute.AppendChild(values)
		attributes.AppendChild(attribute)
	}

	entry.AppendChild(attributes)

	return entry
}

func encodeSearchResultReference(m *SearchResultReference) *ber.Packet {
	reference := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationSearchResultReference, nil, "Search Result Reference")
	for _, uri := range m.URIs {
		reference.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, uri, "URI"))
	}

	return reference
}

func encodeExtendedRequest(m *ExtendedRequest) *ber.Packet {
	request := ber.Encode(ber.ClassApplication, ber.TypeConstructed, ApplicationExtendedRequest, nil, "Extended Request")
	request.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 0, m.OID, "Request Name"))

	return request
}

func encodeExtendedResponse(m *ExtendedResponse) *ber.Packet {
	response := encodeResult(ApplicationExtendedResponse, "Extended Response", &m.Result)

	if m.OID != "" {
		response.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, 10, m.OID, "Response Name"))
	}

	return response
}

func encodeResult(tag ber.Tag, description string, result *Result) *ber.Packet {
	response := ber.Encode(ber.ClassApplication, ber.TypeConstructed, tag, nil, description)
	response.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(result.Code), "Result Code"))
	response.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, result.MatchedDN, "Matched DN"))
	response.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, result.Diagnostic, "Diagnostic Message"))

	return response
}
