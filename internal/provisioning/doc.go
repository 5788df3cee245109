// Package provisioning flashes a newly attached sensor node and learns
// its hardware identity.
//
// A run walks a fixed sequence of stages:
//
//  1. find a serial node (ttyACM*, ttyUSB*)
//  2. optionally stage a copy of the sketch with a generated config.h,
//     when FLASH_SSID, FLASH_PASS or FLASH_TARGET_IP is set
//  3. compile with arduino-cli, streaming every output line
//  4. upload, only if the compile succeeded
//  5. find the serial node again
//  6. wait for a line containing an identity like aa:bb:cc:dd:ee:ff
//  7. remove the staged copy
//  8. report the Outcome, then a Final Status
//
// No stage failure ends a run early without reporting. The manager has
// no access to the device registry; callers wire the handlers.
package provisioning
