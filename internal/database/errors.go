package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrBookingNotFound        = errors.New("booking not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrTrainerBusy            = errors.New("trainer already has a booking in this window")
	ErrClientBusy             = errors.New("client already has a booking in this window")
	ErrSlotTaken              = errors.New("session start is already taken")
)

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
