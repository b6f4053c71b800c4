// Package markup converts message text between the IRC side and the backend
// encoding: entity escaping, id mentions, broadcast tokens and link wrappers.
package markup
