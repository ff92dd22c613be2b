///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package barrier

import (
	"fmt"
	"github.com/pkg/errors"
	"strings"
)

// Phase is one of the two rendezvous points of a checkpoint step.
type Phase uint8

const (
	// EnterWrite releases the ranks into the write
	EnterWrite = Phase(iota)
	// ExitWrite is reached by every rank once its write is reported
	ExitWrite
	NUM_PHASES
)

func (p Phase) String() string {
	switch p {
	case EnterWrite:
		return "EnterWrite"
	case ExitWrite:
		return "ExitWrite"
	default:
		return fmt.Sprintf("UNKNOWN PHASE: %d", p)
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	if p >= NUM_PHASES {
		return nil, errors.Errorf("cannot marshal unknown phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase encoded by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for i := EnterWrite; i < NUM_PHASES; i++ {
		if strings.EqualFold(i.String(), string(text)) {
			*p = i
			return nil
		}
	}
	return errors.Errorf("unknown phase %q", string(text))
}
