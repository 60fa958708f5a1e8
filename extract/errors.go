package extract

import "errors"

var (
	// ErrEmptyContent indicates the document content is blank.
	ErrEmptyContent = errors.New("document content is empty")

	// ErrMalformedStructure indicates the expected DTE/Documento/Encabezado
	// structure could not be located in the document.
	ErrMalformedStructure = errors.New("malformed document structure")

	// ErrBranchDirectoryRequired is returned when a branch directory is not provided.
	ErrBranchDirectoryRequired = errors.New("branch directory required")
)
