package repository

import "errors"

var (
	// ErrApartmentNotFound — квартира не найдена ни в одном индексе.
	ErrApartmentNotFound = errors.New("apartment not found")
	// ErrNoFieldsToUpdate — в частичном обновлении не задано ни одного поля.
	ErrNoFieldsToUpdate = errors.New("no fields to update")
)
