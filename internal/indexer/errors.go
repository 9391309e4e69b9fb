package indexer

import "errors"

var ErrEmptyListing = errors.New("listing has neither document nor images")
