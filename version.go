package ghapp

// Version is the library version, reported in the User-Agent of every API
// client created by an App.
const Version = "0.4.0"

var userAgent = "ghapp/" + Version
