/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const contentTypeDTMFRelay = "application/dtmf-relay"

var errInvalidDTMF = errors.New("invalid dtmf info body")

// dtmfRelayBody encodes a digit as an application/dtmf-relay INFO body.
func dtmfRelayBody(digit rune, duration time.Duration) ([]byte, error) {
	d := unicode.ToUpper(digit)
	if !strings.ContainsRune("0123456789*#ABCD", d) {
		return nil, fmt.Errorf("%w: %q", errInvalidDTMF, digit)
	}
	ms := duration.Milliseconds()
	if ms <= 0 {
		ms = 160
	}
	return []byte(fmt.Sprintf("Signal=%c\r\nDuration=%d\r\n", d, ms)), nil
}

// parseDTMFRelay decodes an application/dtmf-relay body.
func parseDTMFRelay(body []byte) (rune, time.Duration, error) {
	var (
		signal   rune
		duration time.Duration
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "signal":
			if len(value) != 1 {
				return 0, 0, errInvalidDTMF
			}
			signal = unicode.ToUpper(rune(value[0]))
		case "duration":
			ms, err := strconv.Atoi(value)
			if err != nil {
				return 0, 0, errInvalidDTMF
			}
			duration = time.Duration(ms) * time.Millisecond
		}
	}
	if signal == 0 || !strings.ContainsRune("0123456789*#ABCD", signal) {
		return 0, 0, errInvalidDTMF
	}
	return signal, duration, nil
}
