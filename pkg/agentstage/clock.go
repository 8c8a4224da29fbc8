package agentstage

import "time"

// timeNow is replaced in tests that need deterministic publish timestamps.
var timeNow = time.Now
