package confloader

import (
	"reflect"
	"strings"
)

// keySet maps environment style names (lower case, "_" separated) to koanf
// keys.
type keySet struct {
	leaves map[string]string
	// maps holds keys whose value is a map; env names below them keep the
	// remainder as a single map key.
	maps map[string]string
}

// keysOf walks the koanf tags of target.
func keysOf(target any) keySet {
	ks := keySet{leaves: map[string]string{}, maps: map[string]string{}}
	if target == nil {
		return ks
	}
	t := reflect.TypeOf(target)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		ks.walk(t, "")
	}
	return ks
}

func (ks keySet) walk(t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("koanf"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch ft.Kind() {
		case reflect.Struct:
			if ft.PkgPath() == "time" {
				ks.leaves[envName(key)] = key
				continue
			}
			ks.walk(ft, key)
		case reflect.Map:
			ks.maps[envName(key)] = key
		default:
			ks.leaves[envName(key)] = key
		}
	}
}

func envName(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// resolve turns a lower-cased, unprefixed environment name into a koanf key.
// Unknown names fall back to replacing every "_" with ".".
func (ks keySet) resolve(name string) string {
	if key, ok := ks.leaves[name]; ok {
		return key
	}
	best := ""
	for env := range ks.maps {
		if strings.HasPrefix(name, env+"_") && len(env) > len(best) {
			best = env
		}
	}
	if best != "" {
		return ks.maps[best] + "." + name[len(best)+1:]
	}
	return strings.ReplaceAll(name, "_", ".")
}
