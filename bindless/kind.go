package bindless

// ResourceKind identifies one of the separate slot spaces in a bindless descriptor table
type ResourceKind int

const (
	ResourceKindBuffer ResourceKind = iota
	ResourceKindTexture
	ResourceKindSampler

	resourceKindCount
)

var resourceKindMapping = map[ResourceKind]string{
	ResourceKindBuffer:  "Buffer",
	ResourceKindTexture: "Texture",
	ResourceKindSampler: "Sampler",
}

func (k ResourceKind) String() string {
	return resourceKindMapping[k]
}
