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

// Decode interprets a BER packet as an LDAPMessage envelope. Unknown
// application tags, missing components and type mismatches all yield a
// malformed-message error. Trailing message controls are tolerated but not
// interpreted.
func Decode(packet *ber.Packet) (*Envelope, error) {
	if packet == nil {
		return nil, malformed("nil packet")
	}

	if packet.ClassType != ber.ClassUniversal || packet.TagType != ber.TypeConstructed || packet.Tag != ber.TagSequence {
		return nil, malformed("envelope is not a sequence")
	}

	if len(packet.Children) < 2 {
		return nil, malformed("envelope has too few components")
	}

	messageID, ok := packet.Children[0].Value.(int64)
	if !ok {
		return nil, malformed("message ID is not an integer")
	}

	opPacket := packet.Children[1]
	if opPacket.ClassType != ber.ClassApplication {
		return nil, malformed("protocol op is not application class")
	}

	op, err := decodeOp(opPacket)
	if err != nil {
		return nil, err
	}

	return &Envelope{MessageID: messageID, Op: op}, nil
}

func decodeOp(packet *ber.Packet) (Message, error) {
	switch packet.Tag {
	case ApplicationBindRequest:
		return decodeBindRequest(packet)
	case ApplicationBindResponse:
		result, err := decodeResult(packet, "bind response")
		if err != nil {
			return nil, err
		}

		return &BindResponse{Result: *result}, nil
	case ApplicationUnbindRequest:
		return &UnbindRequest{}, nil
	case ApplicationSearchRequest:
		return decodeSearchRequest(packet)
	case ApplicationSearchResultEntry:
		return decodeSearchResultEntry(packet)
	case ApplicationSearchResultDone:
		result, err := decodeResult(packet, "search result done")
		if err != nil {
			return nil, err
		}

		return &SearchResultDone{Result: *result}, nil
	case ApplicationSearchResultReference:
		return decodeSearchResultReference(packet), nil
	case ApplicationExtendedRequest:
		return decodeExtendedRequest(packet)
	case ApplicationExtendedResponse:
		return decodeExtendedResponse(packet)
	default:
		return nil, malformed(fmt.Sprintf("unknown application tag %d", packet.Tag))
	}
}

func decodeBindRequest(packet *ber.Packet) (Message, error) {
	if len(packet.Children) != 3 {
		return nil, malformed("bind request has wrong number of components")
	}

	version, ok := packet.Children[0].Value.(int64)
	if !ok {
		return nil, malformed("bind request version is not an integer")
	}

	dn, ok := packet.Children[1].Value.(string)
	if !ok {
		return nil, malformed("bind request name is not a string")
	}

	auth := packet.Children[2]
	if auth.ClassType != ber.ClassContext || auth.Tag != 0 {
		// Only the simple authentication choice is part of this subset.
		return nil, errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("unsupported authentication choice tag %d", auth.Tag))
	}

	return &BindRequest{Version: version, DN: dn, Password: string(auth.Data.Bytes())}, nil
}

func decodeSearchRequest(packet *ber.Packet) (Message, error) {
	if len(packet.Children) < 8 {
		return nil, malformed("search request has too few components")
	}

	baseDN, ok := packet.Children[0].Value.(string)
	if !ok {
		return nil, malformed("search base is not a string")
	}

	scope, ok := packet.Children[1].Value.(int64)
	if !ok {
		return nil, malformed("search scope is not an enumeration")
	}

	sizeLimit, ok := packet.Children[3].Value.(int64)
	if !ok {
		return nil, malformed("search size limit is not an integer")
	}

	timeLimit, ok := packet.Children[4].Value.(int64)
	if !ok {
		return nil, malformed("search time limit is not an integer")
	}

	typesOnly, ok := packet.Children[5].Value.(bool)
	if !ok {
		return nil, malformed("search types-only is not a boolean")
	}

	filter, err := ldap.DecompileFilter(packet.Children[6])
	if err != nil {
		return nil, malformed(fmt.Sprintf("search filter: %v", err))
	}

	var attributes []string

	for _, child := range packet.Children[7].Children {
		attribute, ok := child.Value.(string)
		if !ok {
			return nil, malformed("search attribute is not a string")
		}

		attributes = append(attributes, attribute)
	}

	return &SearchRequest{
		BaseDN:     baseDN,
		Scope:      scope,
		SizeLimit:  sizeLimit,
		TimeLimit:  timeLimit,
		TypesOnly:  typesOnly,
		Filter:     filter,
		Attributes: attributes,
	}, nil
}

func decodeSearchResultEntry(packet *ber.Packet) (Message, error) {
	if len(packet.Children) != 2 {
		return nil, malformed("search result entry has wrong number of components")
	}

	dn, ok := packet.Children[0].Value.(string)
	if !ok {
		return nil, malformed("entry object name is not a string")
	}

	entry := &SearchResultEntry{DN: dn}

	for _, attributePacket := range packet.Children[1].Children {
		if len(attributePacket.Children) != 2 {
			return nil, malformed("entry attribute has wrong number of components")
		}

		name, ok := attributePacket.Children[0].Value.(string)
		if !ok {
			return nil, malformed("entry attribute type is not a string")
		}

		attribute := EntryAttribute{Name: name}

		for _, valuePacket := range attributePacket.Children[1].Children {
			value, ok := valuePacket.Value.(string)
			if !ok {
				return nil, malformed("entry attribute value is not a string")
			}

			attribute.Values = append(attribute.Values, value)
		}

		entry.Attributes = append(entry.Attributes, attribute)
	}

	return entry, nil
}

func decodeSearchResultReference(packet *ber.Packet) Message {
	reference := &SearchResultReference{}

	for _, child := range packet.Children {
		if uri, ok := child.Value.(string); ok {
			reference.URIs = append(reference.URIs, uri)
		}
	}

	return reference
}

func decodeExtendedRequest(packet *ber.Packet) (Message, error) {
	if len(packet.Children) < 1 {
		return nil, malformed("extended request without request name")
	}

	name := packet.Children[0]
	if name.ClassType != ber.ClassContext || name.Tag != 0 {
		return nil, malformed("extended request name has wrong tag")
	}

	return &ExtendedRequest{OID: string(name.Data.Bytes())}, nil
}

func decodeExtendedResponse(packet *ber.Packet) (Message, error) {
	result, err := decodeResult(packet, "extended response")
	if err != nil {
		return nil, err
	}

	response := &ExtendedResponse{Result: *result}

	// Optional responseName ([10]) after the result components.
	for _, child := range packet.Children[3:] {
		if child.ClassType == ber.ClassContext && child.Tag == 10 {
			response.OID = string(child.Data.Bytes())
		}
	}

	return response, nil
}

func decodeResult(packet *ber.Packet, what string) (*Result, error) {
	if len(packet.Children) < 3 {
		return nil, malformed(what + " has too few components")
	}

	code, ok := packet.Children[0].Value.(int64)
	if !ok {
		return nil, malformed(what + " result code is not an enumeration")
	}

	matchedDN, ok := packet.Children[1].Value.(string)
	if !ok {
		return nil, malformed(what + " matched DN is not a string")
	}

	diagnostic, ok := packet.Children[2].Value.(string)
	if !ok {
		return nil, malformed(what + " diagnostic message is not a string")
	}

	return &Result{Code: ResultCode(code), MatchedDN: matchedDN, Diagnostic: diagnostic}, nil
}

func malformed(detail string) error {
	return errors.NewDetailedError(errors.ErrMalformedMessage).WithDetail(detail)
}
