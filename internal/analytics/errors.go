package analytics

import "errors"

var (
	// ErrInvalidWindow is returned when the date range is inverted or missing
	ErrInvalidWindow = errors.New("start must be before end")

	// ErrOutOfScope is returned when a filter names a tenant or deployment
	// outside the caller's access scope
	ErrOutOfScope = errors.New("requested tenant or deployment is out of scope")

	// ErrUnknownDeployment is returned when a deployment id matches no
	// deployment at all
	ErrUnknownDeployment = errors.New("deployment does not exist")

	// ErrUnsortableColumn is returned when a sort references a column that
	// is unknown or not sortable
	ErrUnsortableColumn = errors.New("column is unknown or not sortable")

	// ErrBadFacet is returned when a facet value is not a member of its enum
	ErrBadFacet = errors.New("facet value is not a recognized enum member")
)
