package types

// Version is the bmsrender release version.
// Set here rather than via ldflags so library consumers see it too.
const Version = "0.1.0"
