/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// Media direction attributes.
const (
	DirectionSendRecv = "sendrecv"
	DirectionSendOnly = "sendonly"
	DirectionRecvOnly = "recvonly"
	DirectionInactive = "inactive"
)

func isDirection(key string) bool {
	switch key {
	case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
		return true
	}
	return false
}

// withDirection rewrites the direction of every audio section and bumps the
// origin version so the peer treats the body as a new offer.
func withDirection(body, direction string) (string, error) {
	if !isDirection(direction) {
		return "", fmt.Errorf("invalid media direction %q", direction)
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return "", fmt.Errorf("parsing sdp: %w", err)
	}

	sd.Origin.SessionVersion++
	sd.Attributes = dropDirection(sd.Attributes)
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		md.Attributes = append(dropDirection(md.Attributes), sdp.NewPropertyAttribute(direction))
	}

	out, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("encoding sdp: %w", err)
	}
	return string(out), nil
}

func dropDirection(attrs []sdp.Attribute) []sdp.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if !isDirection(a.Key) {
			out = append(out, a)
		}
	}
	return out
}

// mediaDirection returns the direction of the first audio section, falling
// back to the session level and then sendrecv.
func mediaDirection(body string) (string, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return "", fmt.Errorf("parsing sdp: %w", err)
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		for _, a := range md.Attributes {
			if isDirection(a.Key) {
				return a.Key, nil
			}
		}
		break
	}
	for _, a := range sd.Attributes {
		if isDirection(a.Key) {
			return a.Key, nil
		}
	}
	return DirectionSendRecv, nil
}

// answerDirection mirrors an offered direction.
func answerDirection(offered string) string {
	switch offered {
	case DirectionSendOnly:
		return DirectionRecvOnly
	case DirectionRecvOnly:
		return DirectionSendOnly
	case DirectionInactive:
		return DirectionInactive
	default:
		return DirectionSendRecv
	}
}
