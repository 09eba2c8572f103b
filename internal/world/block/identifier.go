package block

import (
	"fmt"
	"strings"
)

// DefaultNamespace подставляется, если в идентификаторе не указано пространство имён
const DefaultNamespace = "minecraft"

// Identifier - символьный идентификатор блока вида "namespace:path"
type Identifier string

// ParseIdentifier разбирает строку и нормализует её к виду "namespace:path"
func ParseIdentifier(s string) (Identifier, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "", fmt.Errorf("пустой идентификатор блока")
	}

	ns, path, found := strings.Cut(s, ":")
	if !found {
		ns, path = DefaultNamespace, s
	}
	if ns == "" || path == "" || strings.Contains(path, ":") {
		return "", fmt.Errorf("некорректный идентификатор блока %q", s)
	}
	return Identifier(ns + ":" + path), nil
}

// MustIdentifier как ParseIdentifier, но паникует при ошибке. Только для статических таблиц.
func MustIdentifier(s string) Identifier {
	id, err := ParseIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Namespace возвращает пространство имён идентификатора
func (id Identifier) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ":")
	return ns
}

// Path возвращает имя блока без пространства имён
func (id Identifier) Path() string {
	_, path, _ := strings.Cut(string(id), ":")
	return path
}

func (id Identifier) String() string {
	return string(id)
}
