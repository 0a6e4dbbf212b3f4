package timeline

// Flatten walks a forest of objects depth first and returns every node once,
// parents before their children. Children lose their Children slice and gain
// an InGroup reference to their parent. The input is not modified.
func Flatten(objs []*Object) []*Object {
	out := make([]*Object, 0, len(objs))
	var walk func(o *Object, parent string)
	walk = func(o *Object, parent string) {
		if o == nil {
			return
		}
		c := o.Clone()
		c.Children = nil
		if parent != "" {
			c.InGroup = parent
		}
		out = append(out, c)
		for _, child := range o.Children {
			walk(child, o.ID)
		}
	}
	for _, o := range objs {
		walk(o, "")
	}
	return out
}
