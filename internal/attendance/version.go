package attendance

// Version is the geoattend release version.
const Version = "0.1.0"
