package fd

type ErrInvalid struct{}

func (ErrInvalid) Error() string {
	return "invalid file descriptor"
}
