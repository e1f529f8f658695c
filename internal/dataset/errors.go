package dataset

import "errors"

var (
	// ErrAlreadyRegistered: идентификатор уже зарегистрирован в хранилище.
	ErrAlreadyRegistered = errors.New("dataset: already registered")
	// ErrUnknownDataset: идентификатор не регистрировался.
	ErrUnknownDataset = errors.New("dataset: unknown dataset")
	// ErrDataNotReady: набор зарегистрирован, но в него ещё ничего не записано.
	ErrDataNotReady = errors.New("dataset: data not ready")
)
