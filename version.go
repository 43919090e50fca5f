package flowbridge

// Version is the bridge version.
const Version = "0.1.0"
