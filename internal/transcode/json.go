// Package transcode implements the bidirectional tool-call transcoder: the
// request-direction rewriter (C3), the non-streaming (C4) and streaming (C5)
// response transcoders, and the delimiter-aware parser (C6) they both rest
// on.
package transcode

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary
