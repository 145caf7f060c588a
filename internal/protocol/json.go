// Package protocol defines the OpenAI-style chat-completions wire types the
// transcoder reads and writes, and the system-prompt contract that teaches an
// upstream model to speak the delimited tool-call protocol.
package protocol

import jsoniter "github.com/json-iterator/go"

// json is the codec used for every wire payload in this module. It is a
// drop-in, standard-library-compatible replacement for encoding/json that is
// meaningfully faster on the hot per-token SSE decode path in
// internal/transcode, which is the largest and most latency-sensitive
// component in the system.
var json = jsoniter.ConfigCompatibleWithStandardLibrary
