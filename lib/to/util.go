package to

func Ptr[T any](v T) *T {
	return &v
}

// EmptyString dereferences the string pointer, returning an empty string if it is nil.
func EmptyString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
