// Package cases provides the business boundary for dogtor's case workflow.
// It defines the Service (stage sequencing and preconditions), the Store
// interface (persistence), the collaborator interfaces for image analysis,
// triage generation and blob storage, and the domain models.
package cases
