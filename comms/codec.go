///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package comms

// codec.go registers the json codec the benchmark messages are sent with

import (
	"encoding/json"
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype of every benchmark call
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrapf(err, "could not marshal %T", v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return errors.Wrapf(json.Unmarshal(data, v), "could not unmarshal %T",
		v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
