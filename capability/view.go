package capability

// View is a non-owning reference to exactly one capability of a leased
// device. The registry refuses to hand out a View whose Tag the device does
// not declare (§3 "Capability view"). A View carries no exported state of
// its own beyond the Tag and the underlying driver; callers recover the
// concrete operation set with the As* helpers below, which fail closed if
// the driver doesn't actually implement that interface (the registry checks
// declared tags, not driver method sets, so this is where such a
// configuration bug surfaces).
type View struct {
	Tag    Tag
	Device string
	driver any
}

// NewView wraps driver as a capability view for the given tag. Intended for
// use by package registry only.
func NewView(tag Tag, device string, driver any) View {
	return View{Tag: tag, Device: device, driver: driver}
}

// AsMovable recovers MovableOps from a Movable-tagged view.
func AsMovable(v View) (MovableOps, bool) {
	ops, ok := v.driver.(MovableOps)
	return ops, ok && v.Tag == Movable
}

// AsReadable recovers ReadableOps from a Readable-tagged view.
func AsReadable(v View) (ReadableOps, bool) {
	ops, ok := v.driver.(ReadableOps)
	return ops, ok && v.Tag == Readable
}

// AsTriggerable recovers TriggerableOps from a Triggerable-tagged view.
func AsTriggerable(v View) (TriggerableOps, bool) {
	ops, ok := v.driver.(TriggerableOps)
	return ops, ok && v.Tag == Triggerable
}

// AsFrameProducer recovers FrameProducerOps from a FrameProducer-tagged view.
func AsFrameProducer(v View) (FrameProducerOps, bool) {
	ops, ok := v.driver.(FrameProducerOps)
	return ops, ok && v.Tag == FrameProducer
}

// AsSettable recovers SettableOps from a Settable-tagged view.
func AsSettable(v View) (SettableOps, bool) {
	ops, ok := v.driver.(SettableOps)
	return ops, ok && v.Tag == Settable
}

// AsStageable recovers StageableOps from a Stageable-tagged view.
func AsStageable(v View) (StageableOps, bool) {
	ops, ok := v.driver.(StageableOps)
	return ops, ok && v.Tag == Stageable
}

// AsCommandable recovers CommandableOps from a Commandable-tagged view.
func AsCommandable(v View) (CommandableOps, bool) {
	ops, ok := v.driver.(CommandableOps)
	return ops, ok && v.Tag == Commandable
}
