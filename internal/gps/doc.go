// Package gps decodes NMEA 0183 position/velocity (RMC) and fix-quality (GGA)
// sentences into a Fix and runs the serial or gpsd byte transport that feeds
// the decoder.
//
// Malformed or checksum-failing sentences are dropped silently; loss of fix
// is detected by the consumer through the age of Fix.LastFix.
package gps
