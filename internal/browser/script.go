package browser

// bindingName is the window function the page calls to report input.
const bindingName = "floatnoteEvent"

// pageScript installs window.__floatnote. Paths use the same grammar as
// anchor.Path: /tag[n]/.../text()[k], indices 1-based, tags lower-case.
// Highlights of one color share a CSS custom highlight named
// "<key>--<hex>"; the notes and the toolbar live in a shadow root so they
// never appear in document snapshots.
const pageScript = `() => {
	if (window.__floatnote) return;

	const send = (ev) => {
		const fn = window['` + bindingName + `'];
		if (typeof fn === 'function') fn(ev);
	};

	const nodeAt = (path) => {
		if (!path || path[0] !== '/') return null;
		let cur = document;
		for (const step of path.slice(1).split('/')) {
			const m = /^([^\[\]]+)(?:\[(\d+)\])?$/.exec(step);
			if (!m) return null;
			const name = m[1].toLowerCase();
			const want = m[2] ? parseInt(m[2], 10) : 1;
			let pos = 0, next = null;
			for (const c of cur.childNodes) {
				const hit = name === 'text()'
					? c.nodeType === Node.TEXT_NODE
					: c.nodeType === Node.ELEMENT_NODE && c.localName.toLowerCase() === name;
				if (hit && ++pos === want) { next = c; break; }
			}
			if (!next) return null;
			cur = next;
		}
		return cur;
	};

	const pathOf = (n) => {
		const parts = [];
		if (n.nodeType === Node.TEXT_NODE) {
			let k = 1;
			for (let s = n.previousSibling; s; s = s.previousSibling) {
				if (s.nodeType === Node.TEXT_NODE) k++;
			}
			parts.push('text()[' + k + ']');
			n = n.parentNode;
		}
		for (; n && n.nodeType === Node.ELEMENT_NODE; n = n.parentNode) {
			const tag = n.localName.toLowerCase();
			let i = 1;
			for (let s = n.previousElementSibling; s; s = s.previousElementSibling) {
				if (s.localName.toLowerCase() === tag) i++;
			}
			parts.push(tag + '[' + i + ']');
		}
		return '/' + parts.reverse().join('/');
	};

	const rangeOf = (sp, so, ep, eo) => {
		const s = nodeAt(sp), e = nodeAt(ep);
		if (!s || !e) throw new Error('floatnote: path not found');
		const r = document.createRange();
		r.setStart(s, so);
		r.setEnd(e, eo);
		return r;
	};

	const sheet = new CSSStyleSheet();
	document.adoptedStyleSheets = [...document.adoptedStyleSheets, sheet];
	const styled = new Set();
	const painted = new Map();

	const colorKey = (key, color) => key + '--' + color.replace('#', '').toLowerCase();

	const highlightFor = (name, color) => {
		let h = CSS.highlights.get(name);
		if (!h) {
			h = new Highlight();
			CSS.highlights.set(name, h);
		}
		if (!styled.has(name)) {
			sheet.insertRule('::highlight(' + name + ') { background-color: ' + color + '; }', sheet.cssRules.length);
			styled.add(name);
		}
		return h;
	};

	let host = null, root = null, toolbar = null;
	const ui = () => {
		if (host && host.isConnected) return root;
		host = document.createElement('floatnote-root');
		host.style.cssText = 'position:absolute;left:0;top:0;width:0;height:0;z-index:2147483647;';
		root = host.attachShadow({ mode: 'open' });
		const st = document.createElement('style');
		st.textContent = [
			'.note{position:absolute;box-sizing:border-box;display:flex;flex-direction:column;padding:0 8px 8px;background:#fff9c4;',
			'border:1px solid #e0c600;border-radius:4px;box-shadow:0 2px 6px rgba(0,0,0,.2);font:14px/1.4 sans-serif;}',
			'.note .bar{display:flex;justify-content:flex-end;height:18px;cursor:move;touch-action:none;}',
			'.note .close{border:0;background:none;cursor:pointer;font-size:14px;line-height:1;}',
			'.note .body{flex:1;overflow:auto;outline:none;}',
			'.note .body[contenteditable=true]{outline:2px solid #2196f3;}',
			'.note .grip{position:absolute;right:0;bottom:0;width:12px;height:12px;cursor:nwse-resize;touch-action:none;}',
			'.toolbar{position:absolute;display:flex;gap:4px;padding:4px;background:#333;border-radius:4px;}',
			'.toolbar button{width:20px;height:20px;border:0;border-radius:50%;cursor:pointer;}',
			'.toolbar .delete{border-radius:3px;background:#eee;width:auto;}',
		].join('');
		root.appendChild(st);
		document.documentElement.appendChild(host);
		return root;
	};

	const insideUI = (ev) => host !== null && ev.composedPath().includes(host);

	const editable = (ev) => {
		if (insideUI(ev)) return true;
		const t = ev.target;
		if (!t || t.nodeType !== Node.ELEMENT_NODE) return false;
		const tag = t.localName;
		return tag === 'input' || tag === 'textarea' || tag === 'select' || t.isContentEditable;
	};

	const timers = new Map();

	// Style keys as stored on a note, paired with their CSSStyleDeclaration names.
	const styleProps = [
		['background_color', 'backgroundColor'], ['color', 'color'],
		['font_family', 'fontFamily'], ['font_size', 'fontSize'],
		['line_height', 'lineHeight'], ['letter_spacing', 'letterSpacing'],
		['word_spacing', 'wordSpacing'], ['border', 'border'],
		['padding', 'padding'], ['margin', 'margin'], ['margin_top', 'marginTop'],
	];

	const styleOf = (el) => {
		const cs = getComputedStyle(el);
		const out = {};
		for (const [k, prop] of styleProps) out[k] = cs[prop];
		return out;
	};

	// drag follows the pointer from a pointerdown until release, then reports
	// the final position once.
	const drag = (handle, ev, move, done) => {
		ev.preventDefault();
		ev.stopPropagation();
		handle.setPointerCapture(ev.pointerId);
		const x0 = ev.pageX, y0 = ev.pageY;
		const onMove = (m) => move(m.pageX - x0, m.pageY - y0);
		const onUp = () => {
			handle.removeEventListener('pointermove', onMove);
			handle.removeEventListener('pointerup', onUp);
			handle.removeEventListener('pointercancel', onUp);
			done();
		};
		handle.addEventListener('pointermove', onMove);
		handle.addEventListener('pointerup', onUp);
		handle.addEventListener('pointercancel', onUp);
	};

	const noteElement = (id) => {
		const el = document.createElement('div');
		el.id = 'note-' + id;
		el.className = 'note';

		const bar = document.createElement('div');
		bar.className = 'bar';
		const close = document.createElement('button');
		close.className = 'close';
		close.textContent = '\u00d7';
		close.title = 'Delete note';
		close.addEventListener('pointerdown', (ev) => ev.stopPropagation());
		close.addEventListener('click', () => send({ type: 'noteDelete', id }));
		bar.appendChild(close);

		const body = document.createElement('div');
		body.className = 'body';
		body.addEventListener('input', () => {
			clearTimeout(timers.get(id));
			timers.set(id, setTimeout(() => send({ type: 'noteChanged', id, html: body.innerHTML, style: styleOf(el) }), 500));
		});
		body.addEventListener('dblclick', () => {
			if (body.contentEditable !== 'true') send({ type: 'noteMode', id, view_mode: 'edit' });
		});
		body.addEventListener('blur', () => {
			if (body.contentEditable === 'true') send({ type: 'noteMode', id, view_mode: 'view' });
		});

		const grip = document.createElement('div');
		grip.className = 'grip';

		bar.addEventListener('pointerdown', (ev) => {
			const l0 = el.offsetLeft, t0 = el.offsetTop;
			drag(bar, ev, (dx, dy) => {
				el.style.left = (l0 + dx) + 'px';
				el.style.top = (t0 + dy) + 'px';
			}, () => send({ type: 'noteMoved', id, left: el.offsetLeft, top: el.offsetTop, style: styleOf(el) }));
		});
		grip.addEventListener('pointerdown', (ev) => {
			const w0 = el.offsetWidth, h0 = el.offsetHeight;
			drag(grip, ev, (dx, dy) => {
				el.style.width = Math.max(80, w0 + dx) + 'px';
				el.style.height = Math.max(48, h0 + dy) + 'px';
			}, () => send({ type: 'noteResized', id, width: el.offsetWidth, height: el.offsetHeight, style: styleOf(el) }));
		});

		el.append(bar, body, grip);
		return el;
	};

	window.__floatnote = {
		viewport: () => ({ left: window.scrollX, top: window.scrollY, width: window.innerWidth, height: window.innerHeight }),

		scrollTo: (x, y) => { window.scrollTo(x, y); },

		rect: (sp, so, ep, eo) => {
			const b = rangeOf(sp, so, ep, eo).getBoundingClientRect();
			return { left: b.left, top: b.top, width: b.width, height: b.height };
		},

		add: (key, id, sp, so, ep, eo, color) => {
			window.__floatnote.remove(key, id);
			const r = rangeOf(sp, so, ep, eo);
			const name = colorKey(key, color);
			highlightFor(name, color).add(r);
			if (!painted.has(key)) painted.set(key, new Map());
			painted.get(key).set(id, { name, range: r });
		},

		remove: (key, id) => {
			const set = painted.get(key);
			const item = set && set.get(id);
			if (!item) return;
			const h = CSS.highlights.get(item.name);
			if (h) h.delete(item.range);
			set.delete(id);
		},

		clear: (key) => {
			const set = painted.get(key);
			if (!set) return;
			for (const id of [...set.keys()]) window.__floatnote.remove(key, id);
			painted.delete(key);
		},

		showNote: (n) => {
			const r = ui();
			let el = r.getElementById('note-' + n.id);
			const fresh = !el;
			if (fresh) {
				el = noteElement(n.id);
				r.appendChild(el);
			}
			const body = el.querySelector('.body');
			const s = n.style || {};
			Object.assign(el.style, {
				left: n.bbox.left + 'px', top: n.bbox.top + 'px',
				width: n.bbox.width + 'px', height: n.bbox.height + 'px',
			});
			for (const [k, prop] of styleProps) el.style[prop] = s[k] || '';
			if (body.innerHTML !== n.html) body.innerHTML = n.html;
			body.contentEditable = n.view_mode === 'edit' ? 'true' : 'false';
			if (fresh && Object.keys(s).length === 0) {
				send({ type: 'noteStyle', id: n.id, style: styleOf(el) });
			}
		},

		removeNote: (id) => {
			clearTimeout(timers.get(id));
			timers.delete(id);
			const el = root && root.getElementById('note-' + id);
			if (el) el.remove();
		},

		showToolbar: (id, x, y, colors) => {
			const r = ui();
			if (toolbar) toolbar.remove();
			toolbar = document.createElement('div');
			toolbar.className = 'toolbar';
			toolbar.style.left = x + 'px';
			toolbar.style.top = (y + 12) + 'px';
			for (const c of colors) {
				const b = document.createElement('button');
				b.style.background = c;
				b.title = c;
				b.addEventListener('click', () => send({ type: 'recolor', id, color: c }));
				toolbar.appendChild(b);
			}
			const del = document.createElement('button');
			del.className = 'delete';
			del.textContent = 'Delete';
			del.addEventListener('click', () => send({ type: 'delete', id }));
			toolbar.appendChild(del);
			r.appendChild(toolbar);
		},

		hideToolbar: () => {
			if (toolbar) toolbar.remove();
			toolbar = null;
		},
	};

	document.addEventListener('mouseup', (ev) => {
		if (insideUI(ev)) return;
		const sel = window.getSelection();
		if (!sel || sel.rangeCount === 0 || sel.isCollapsed) return;
		const r = sel.getRangeAt(0);
		send({
			type: 'select',
			start: { path: pathOf(r.startContainer), offset: r.startOffset },
			end: { path: pathOf(r.endContainer), offset: r.endOffset },
		});
	}, true);

	document.addEventListener('click', (ev) => {
		send({ type: 'click', x: ev.pageX, y: ev.pageY, inside: insideUI(ev) });
	}, true);

	document.addEventListener('keydown', (ev) => {
		const e = editable(ev);
		const k = ev.key.length === 1 ? ev.key.toLowerCase() : ev.key;
		if (!e && (ev.ctrlKey || ev.metaKey) && !ev.shiftKey && !ev.altKey && (k === 'h' || k === 'n')) {
			ev.preventDefault();
		}
		send({ type: 'key', key: ev.key, ctrl: ev.ctrlKey, meta: ev.metaKey, shift: ev.shiftKey, alt: ev.altKey, editable: e });
	}, true);
}`
