// Package clock abstracts time for components that schedule recurring work.
// Production code uses System; tests inject a Manual clock and drive
// scheduled jobs deterministically with Advance instead of sleeping.
package clock
